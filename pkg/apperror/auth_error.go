package apperror

import "net/http"

type AuthenticationError string

func (err AuthenticationError) Error() string {
	return string(err)
}

func (err AuthenticationError) ErrCode() string {
	return "AUTHENTICATION_ERROR"
}

func (err AuthenticationError) StatusCode() int {
	return http.StatusUnauthorized
}

type ForbiddenError string

func (err ForbiddenError) Error() string {
	return string(err)
}

func (err ForbiddenError) ErrCode() string {
	return "FORBIDDEN_ERROR"
}

func (err ForbiddenError) StatusCode() int {
	return http.StatusForbidden
}
