package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rail-service/cctp_transfer/internal/domain/services/transfer"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags used by the transfer requests
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("gin validator engine is %T, not *validator.Validate", binding.Validator.Engine())
			return
		}
		// report json field names in validation errors
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		err = v.RegisterValidation("usdc_amount", validateUSDCAmount)
	})
	return err
}

// validateUSDCAmount accepts positive decimal strings with at most 6 fractional digits
func validateUSDCAmount(fl validator.FieldLevel) bool {
	amount, err := transfer.ParseAmount(fl.Field().String())
	if err != nil {
		return false
	}
	_, err = transfer.ToBaseUnits(amount)
	return err == nil
}

// validationDetails flattens binding errors into field -> rule
func validationDetails(err error) map[string]interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]interface{}{"error": err.Error()}
	}
	details := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
