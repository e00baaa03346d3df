package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/newtron-network/extport/pkg/util"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a record's field constraints and returns a
// util.ValidationError listing every violation.
func Validate(record interface{}) error {
	err := validatorInstance().Struct(record)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s (got %q)", fe.Namespace(), fe.Tag(), fmt.Sprint(fe.Value())))
	}
	return util.NewValidationError(msgs...)
}

func validateClassifier(sc *SteeringClassifier) error {
	if err := Validate(sc); err != nil {
		return err
	}
	var msgs []string
	if _, err := ParsePortRange(sc.SrcPortRange); err != nil {
		msgs = append(msgs, "src_port_range: "+err.Error())
	}
	if _, err := ParsePortRange(sc.DstPortRange); err != nil {
		msgs = append(msgs, "dst_port_range: "+err.Error())
	}
	if len(msgs) > 0 {
		return util.NewValidationError(msgs...)
	}
	return nil
}
