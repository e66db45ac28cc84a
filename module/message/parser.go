package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gischat/tools/decode"
	"gischat/tools/errs"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Parser 无状态、可并发使用
type Parser struct {
	limits   Limits
	validate *validator.Validate
	now      func() time.Time
}

func NewParser(l Limits) *Parser {
	return &Parser{limits: l, validate: newValidator(l), now: time.Now}
}

func (p *Parser) Limits() Limits { return p.limits }

// Decode 解析并校验；失败返回 ErrValidation / ErrUnknownMessageType，Detail 即原因文本
func (p *Parser) Decode(payload map[string]any) (Message, error) {
	raw, ok := payload["type"]
	if !ok || raw == nil {
		return nil, errs.ErrValidation.WrapMsg("Missing 'type' field")
	}
	name, _ := raw.(string)
	msg := newVariant(Type(name))
	if msg == nil {
		return nil, errs.ErrUnknownMessageType.WrapMsg(fmt.Sprintf("Unknown type: %v", raw))
	}

	if err := decode.Into(payload, msg); err != nil {
		return nil, errs.ErrValidation.WrapMsg("Validation error: " + describeDecode(err))
	}
	if err := p.validate.Struct(msg); err != nil {
		return nil, errs.ErrValidation.WrapMsg("Validation error: " + p.limits.describe(err))
	}

	env := msg.envelope()
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = p.now().Unix()
	}
	return msg, nil
}

// Parse 永不失败：不合规的输入返回 Uncompliant
func (p *Parser) Parse(payload map[string]any) Message {
	msg, err := p.Decode(payload)
	if err != nil {
		return NewUncompliant(Reason(err))
	}
	return msg
}

// DecodeJSON 用于 broker / 历史记录里的原始字节
func (p *Parser) DecodeJSON(raw []byte) (Message, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errs.ErrValidation.WrapMsg("Validation error: payload must be a JSON object")
	}
	if payload == nil {
		return nil, errs.ErrValidation.WrapMsg("Validation error: payload must be a JSON object")
	}
	return p.Decode(payload)
}

func (p *Parser) ParseJSON(raw []byte) Message {
	msg, err := p.DecodeJSON(raw)
	if err != nil {
		return NewUncompliant(Reason(err))
	}
	return msg
}

// Reason 取出解析失败的原因文本
func Reason(err error) string {
	if ce, ok := errs.As(err); ok && ce.Detail != "" {
		return ce.Detail
	}
	return err.Error()
}

func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func describeDecode(err error) string {
	var me *mapstructure.Error
	if errors.As(err, &me) {
		return strings.Join(me.Errors, "; ")
	}
	return err.Error()
}
