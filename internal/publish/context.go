package publish

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/debemdeboas/postdeck/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// PublishContext is the fully resolved identity a publish needs. Build it with NewPublishContext.
type PublishContext struct {
	User    model.UserID    `json:"user_id" validate:"required"`
	Agency  model.AgencyID  `json:"agency_id" validate:"required"`
	Client  model.ClientID  `json:"client_id" validate:"required"`
	Post    model.PostID    `json:"post_id" validate:"required"`
	Profile model.ProfileID `json:"profile_id" validate:"required"`
}

func NewPublishContext(user model.UserID, client model.ClientID, post model.PostID, profile model.ProfileID, agency model.AgencyID) (PublishContext, error) {
	pc := PublishContext{
		User:    user,
		Agency:  agency,
		Client:  client,
		Post:    post,
		Profile: profile,
	}
	if err := pc.Validate(); err != nil {
		return PublishContext{}, err
	}
	return pc, nil
}

// Validate reports the first missing field as a *model.MissingIdentityError.
func (pc PublishContext) Validate() error {
	err := validate.Struct(pc)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &model.MissingIdentityError{Field: verrs[0].Field()}
	}
	return err
}

func (pc PublishContext) Key() model.PostKey {
	return model.PostKey{Agency: pc.Agency, Client: pc.Client, Post: pc.Post}
}
