package apperror

import "net/http"

type PayloadTooLargeError string

func (err PayloadTooLargeError) Error() string {
	return string(err)
}

func (err PayloadTooLargeError) ErrCode() string {
	return "PAYLOAD_TOO_LARGE"
}

func (err PayloadTooLargeError) StatusCode() int {
	return http.StatusRequestEntityTooLarge
}
