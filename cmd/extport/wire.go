package main

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/extport/pkg/allocator"
	"github.com/newtron-network/extport/pkg/config"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/driver/etherswitch"
	"github.com/newtron-network/extport/pkg/driver/openwrt"
	"github.com/newtron-network/extport/pkg/lock"
	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/steering/drivers/controller"
	"github.com/newtron-network/extport/pkg/steering/drivers/noop"
	"github.com/newtron-network/extport/pkg/steering/drivers/redisdb"
	"github.com/newtron-network/extport/pkg/util"
)

// newRegistry registers the built-in device drivers.
func newRegistry() *driver.Registry {
	reg := driver.NewRegistry()
	etherswitch.Register(reg)
	openwrt.Register(reg)
	return reg
}

func newEnv(cfg *config.Config) driver.Env {
	// Load already validated the list.
	reserved, _ := cfg.Reserved()
	return driver.Env{
		Random:         allocator.NewSource(0),
		DialTimeout:    cfg.Timeouts.Dial,
		ReadTimeout:    cfg.Timeouts.Read,
		RestartTimeout: cfg.Timeouts.Restart,
		ReservedVLANs:  reserved,
	}
}

func (a *App) redisClient(addr string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	a.closers = append(a.closers, client.Close)
	return client
}

// newLocker builds the per-device lock named in the configuration.
func (a *App) newLocker() (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case config.LockLocal, "":
		return lock.NewLocalLocker(), nil
	case config.LockRedis:
		client := a.redisClient(a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisDB)
		util.Debugf("Using Redis device locks at %s", a.cfg.Lock.RedisAddr)
		return lock.NewRedisLocker(client, a.cfg.Lock.TTL, a.cfg.Lock.Retry), nil
	}
	return nil, util.NewMalformedKeyError("lock.backend", fmt.Sprintf("unknown backend %q", a.cfg.Lock.Backend))
}

// newSteeringDrivers builds the steering drivers in configured order.
func (a *App) newSteeringDrivers() ([]steering.Driver, error) {
	var drivers []steering.Driver
	for _, name := range a.cfg.Steering.Drivers {
		switch name {
		case noop.Name:
			drivers = append(drivers, noop.New())
		case redisdb.Name:
			drivers = append(drivers, redisdb.New(a.redisClient(a.cfg.Steering.RedisAddr, a.cfg.Steering.RedisDB)))
		case controller.Name:
			drivers = append(drivers, controller.New(a.cfg.Steering.Controller))
		default:
			return nil, util.NewMalformedKeyError("steering.drivers", fmt.Sprintf("unknown driver %q", name))
		}
	}
	return drivers, nil
}
