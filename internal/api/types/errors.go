package types

import appErr "github.com/infraweave-io/infraweave/pkg/errors"

func FromAppError(err error) *APIError {
    if err == nil {
        return nil
    }
    code := string(appErr.CodeUnknown)
    if e, ok := err.(*appErr.AppError); ok {
        code = string(e.Kind)
        return &APIError{Code: code, Message: appErr.Sanitize(e)}
    }
    return &APIError{Code: code, Message: err.Error()}
}


