package examples

import "github.com/bluecollar/bluecollar/internal/registry"

// Register attaches the demo calculator and resource targets to reg under
// "calculator.*" and "resource.*", the same paths the original standalone
// demo scripts exposed.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterType("calculator", newCalculator, registry.Singleton, map[string]registry.Method{
		"add":        calculatorAdd,
		"subtract":   calculatorSubtract,
		"one_minute": calculatorOneMinute,
	}); err != nil {
		return err
	}

	if err := reg.RegisterType("resource", newResource, registry.PerCall, map[string]registry.Method{
		"http_get": resourceHTTPGet,
	}); err != nil {
		return err
	}

	return nil
}
