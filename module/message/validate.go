package message

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Limits 协议层的长度约束，来自配置
type Limits struct {
	MinAuthorLength  int
	MaxAuthorLength  int
	MaxMessageLength int
}

func DefaultLimits() Limits {
	return Limits{MinAuthorLength: 3, MaxAuthorLength: 32, MaxMessageLength: 255}
}

func newValidator(l Limits) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return l.ValidNickname(fl.Field().String())
	})
	_ = v.RegisterValidation("msglen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= l.MaxMessageLength
	})
	_ = v.RegisterValidation("featurecollection", func(fl validator.FieldLevel) bool {
		m, ok := fl.Field().Interface().(map[string]any)
		if !ok {
			return false
		}
		_, ok = m["features"].([]any)
		return ok
	})
	return v
}

// ValidNickname 长度与字符集同时满足
func (l Limits) ValidNickname(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= l.MinAuthorLength && n <= l.MaxAuthorLength && nicknamePattern.MatchString(s)
}

// describe 把 validator 的错误整理成 "field: rule; field: rule"
func (l Limits) describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+l.rule(fe))
	}
	return strings.Join(parts, "; ")
}

func (l Limits) rule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "nickname":
		return fmt.Sprintf("must be %d to %d characters matching [A-Za-z0-9_-]+ (got '%v')",
			l.MinAuthorLength, l.MaxAuthorLength, fe.Value())
	case "msglen":
		return fmt.Sprintf("must be at most %d characters", l.MaxMessageLength)
	case "featurecollection":
		return "must be a GeoJSON object with a 'features' array"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	}
	return "failed on '" + fe.Tag() + "'"
}
