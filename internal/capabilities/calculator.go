package capabilities

import (
	"context"
	"errors"
	"math"

	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// ErrDivisionByZero is returned by Calculator.divide.
var ErrDivisionByZero = errors.New("division by zero")

// ErrNotFinite is returned when a result overflows to infinity or is NaN.
var ErrNotFinite = errors.New("result is not a finite number")

// Calculator performs basic arithmetic.
type Calculator struct{}

func numberParams() []plugin.ParamSpec {
	return []plugin.ParamSpec{
		{Name: "a", Type: "number", Description: "First number"},
		{Name: "b", Type: "number", Description: "Second number"},
	}
}

// Descriptor implements plugin.Plugin.
func (Calculator) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "Calculator",
		Purpose: "Perform basic arithmetic operations",
		Methods: []plugin.MethodDescriptor{
			{
				Name:              "add",
				Description:       "Adds two numbers together",
				Parameters:        numberParams(),
				ReturnType:        "number",
				ReturnDescription: "The sum of the two numbers",
				Example:           "Calculator.add(4, 4) // returns 8",
			},
			{
				Name:              "subtract",
				Description:       "Subtracts the second number from the first",
				Parameters:        numberParams(),
				ReturnType:        "number",
				ReturnDescription: "The difference of the two numbers",
				Example:           "Calculator.subtract(10, 4) // returns 6",
			},
			{
				Name:              "multiply",
				Description:       "Multiplies two numbers",
				Parameters:        numberParams(),
				ReturnType:        "number",
				ReturnDescription: "The product of the two numbers",
				Example:           "Calculator.multiply(3, 4) // returns 12",
			},
			{
				Name:              "divide",
				Description:       "Divides the first number by the second; dividing by zero is an error",
				Parameters:        numberParams(),
				ReturnType:        "number",
				ReturnDescription: "The quotient of the two numbers",
				Example:           "Calculator.divide(8, 2) // returns 4",
			},
		},
	}
}

// Permissions implements plugin.Plugin.
func (Calculator) Permissions() []plugin.Permission { return nil }

// New implements plugin.Plugin.
func (Calculator) New(*plugin.Env) (plugin.Capability, error) {
	return plugin.Methods{
		"add": binary(func(a, b float64) (float64, error) { return a + b, nil }),
		"subtract": binary(func(a, b float64) (float64, error) {
			return a - b, nil
		}),
		"multiply": binary(func(a, b float64) (float64, error) { return a * b, nil }),
		"divide": binary(func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		}),
	}, nil
}

func binary(op func(a, b float64) (float64, error)) plugin.MethodFunc {
	return func(_ context.Context, args []value.Value) (value.Value, error) {
		if err := plugin.Arity(args, 2, 2); err != nil {
			return value.Null(), err
		}
		a, err := plugin.NumberArg(args, 0)
		if err != nil {
			return value.Null(), err
		}
		b, err := plugin.NumberArg(args, 1)
		if err != nil {
			return value.Null(), err
		}
		out, err := op(a, b)
		if err != nil {
			return value.Null(), err
		}
		if math.IsInf(out, 0) || math.IsNaN(out) {
			return value.Null(), ErrNotFinite
		}
		return value.Number(out), nil
	}
}
