package assert

import "fmt"

// NotNil panics when value is nil. Typed nil pointers inside an
// interface are not caught, callers pass concrete values or interfaces.
func NotNil(value any, name string) {
	if value == nil {
		panic(fmt.Sprintf("expected %s to be not nil", name))
	}
}

func NotEmptyStr(str string, name string) {
	if str == "" {
		panic(fmt.Sprintf("expected %s to be non-empty", name))
	}
}

func Positive(n int, name string) {
	if n <= 0 {
		panic(fmt.Sprintf("expected %s to be positive, got %d", name, n))
	}
}
