package http

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"berrymix-auth/internal/service"
)

// RegisterBindingRules añade las reglas propias al validator que usa gin en ShouldBind*.
func RegisterBindingRules() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	return service.RegisterPasswordRule(v)
}
