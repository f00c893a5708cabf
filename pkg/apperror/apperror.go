package apperror

// GenericError is the contract every typed error in the gateway satisfies.
// The REST recovery middleware maps any panicking GenericError to its
// HTTP status code; everything else becomes a 500.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

// PanicIfNeeded panics when err is non-nil so the recovery middleware can
// translate it. Handlers use it for the happy-path-only style.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}
