package explorererrors_test

import (
	"fmt"
	"io"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// Example demonstrates basic error creation.
func Example() {
	err := explorererrors.New(explorererrors.ErrorTypeNotFound, "no metadata files found at path: warehouse/orders").
		WithDetail("searched_prefixes", []string{"warehouse/orders/metadata/"})

	fmt.Println(err.Error())

	// Output:
	// not_found: no metadata files found at path: warehouse/orders
}

// ExampleWrap shows how wrapping keeps the cause reachable.
func ExampleWrap() {
	err := explorererrors.Wrap(io.ErrUnexpectedEOF, explorererrors.ErrorTypeParse, "invalid metadata JSON").
		WithDetail("file", "gs://bucket/t/metadata/v3.metadata.json")

	if explorererrors.IsType(err, explorererrors.ErrorTypeParse) {
		fmt.Println("parse error")
	}
	fmt.Println(err.Unwrap() == io.ErrUnexpectedEOF)

	// Output:
	// parse error
	// true
}

// ExampleIsRetryable shows which errors the storage retry loop repeats.
func ExampleIsRetryable() {
	throttled := explorererrors.New(explorererrors.ErrorTypeRateLimit, "429 from storage")
	denied := explorererrors.New(explorererrors.ErrorTypePermission, "403 from storage")

	fmt.Println(explorererrors.IsRetryable(throttled))
	fmt.Println(explorererrors.IsRetryable(denied))
	fmt.Println(explorererrors.IsCredentialError(denied))

	// Output:
	// true
	// false
	// true
}
