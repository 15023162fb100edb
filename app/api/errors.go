package api

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"ragstream/jobs"
	"ragstream/loader"
	"ragstream/store"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr   Error
		valErr   ValidationError
		fiberErr *fiber.Error
		parseErr *loader.ParseError
	)
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.Is(err, jobs.ErrUnknownJob), errors.Is(err, store.ErrDocumentNotFound):
		apiErr = NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrResourceExhausted):
		apiErr = NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &parseErr):
		apiErr = NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &fiberErr):
		apiErr = NewError(fiberErr.Code, fiberErr.Message)
	default:
		apiErr = NewError(fiber.StatusInternalServerError, "internal server error")
	}

	if apiErr.Code >= fiber.StatusInternalServerError {
		log.Printf("[API] %s %s failed with code %d: %v", c.Method(), c.Path(), apiErr.Code, err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
