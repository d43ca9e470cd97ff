package pairingapi

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Shape limits are looser than the coordinator's so that its ValidationError,
// which names the offending field, is what clients usually see.
type submitRequest struct {
	Name    string            `json:"name" validate:"max=512"`
	Answers map[string]string `json:"answers" validate:"required,min=1,max=500,dive,keys,required,max=128,endkeys,max=128"`
}

type joinRequest struct {
	Name string `json:"name" validate:"max=512"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type submitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validationMessage renders the first failing field of a request.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return "invalid request"
}
