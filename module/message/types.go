package message

import (
	"time"

	"github.com/google/uuid"
)

// Type 消息判别字段 `type` 的取值
type Type string

const (
	TypeText        Type = "text"
	TypeImage       Type = "image"
	TypeNbUsers     Type = "nb_users"
	TypeNewcomer    Type = "newcomer"
	TypeExiter      Type = "exiter"
	TypeLike        Type = "like"
	TypeGeojson     Type = "geojson"
	TypeCrs         Type = "crs"
	TypeBbox        Type = "bbox"
	TypePosition    Type = "position"
	TypeModel       Type = "model"
	TypeUncompliant Type = "uncompliant"
)

var AllTypes = []Type{
	TypeText, TypeImage, TypeNbUsers, TypeNewcomer, TypeExiter, TypeLike,
	TypeGeojson, TypeCrs, TypeBbox, TypePosition, TypeModel, TypeUncompliant,
}

// Persistable 是否进入房间历史；text 另需排除彩蛋口令
func Persistable(t Type) bool {
	switch t {
	case TypeText, TypeImage, TypeGeojson, TypeCrs, TypeBbox, TypePosition, TypeModel:
		return true
	}
	return false
}

// Message 所有协议消息的公共行为
type Message interface {
	MessageType() Type
	MessageID() string
	MessageTime() int64
	envelope() *Envelope
}

// Envelope 每种消息都携带的头部
type Envelope struct {
	Type      Type   `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Envelope) MessageType() Type   { return e.Type }
func (e *Envelope) MessageID() string   { return e.ID }
func (e *Envelope) MessageTime() int64  { return e.Timestamp }
func (e *Envelope) envelope() *Envelope { return e }

func newEnvelope(t Type) Envelope {
	return Envelope{Type: t, ID: uuid.NewString(), Timestamp: time.Now().Unix()}
}

// Authored 由用户发出、带作者信息的消息
type Authored struct {
	Author string  `json:"author" validate:"nickname"`
	Avatar *string `json:"avatar"`
}

func (a *Authored) AuthorName() string { return a.Author }

type Text struct {
	Envelope
	Authored
	Text string `json:"text" validate:"required,msglen"`
}

type Image struct {
	Envelope
	Authored
	ImageData string `json:"image_data" validate:"required"`
}

type NbUsers struct {
	Envelope
	NbUsers int `json:"nb_users" validate:"gte=0"`
}

type Newcomer struct {
	Envelope
	Newcomer string `json:"newcomer" validate:"nickname"`
}

type Exiter struct {
	Envelope
	Exiter string `json:"exiter" validate:"nickname"`
}

type Like struct {
	Envelope
	LikerAuthor string `json:"liker_author" validate:"nickname"`
	LikedAuthor string `json:"liked_author" validate:"nickname"`
	Message     string `json:"message" validate:"required,msglen"`
}

type Geojson struct {
	Envelope
	Authored
	LayerName string         `json:"layer_name" validate:"required"`
	CrsWkt    string         `json:"crs_wkt" validate:"required"`
	CrsAuthid string         `json:"crs_authid" validate:"required"`
	Geojson   map[string]any `json:"geojson" validate:"required,featurecollection"`
	Style     any            `json:"style,omitempty"`
}

// FeatureCount features 数组长度
func (g *Geojson) FeatureCount() int {
	features, _ := g.Geojson["features"].([]any)
	return len(features)
}

type Crs struct {
	Envelope
	Authored
	CrsWkt    string `json:"crs_wkt" validate:"required"`
	CrsAuthid string `json:"crs_authid" validate:"required"`
}

// 坐标用指针区分“缺失”与 0
type Bbox struct {
	Envelope
	Authored
	CrsWkt    string   `json:"crs_wkt" validate:"required"`
	CrsAuthid string   `json:"crs_authid" validate:"required"`
	Xmin      *float64 `json:"xmin" validate:"required"`
	Xmax      *float64 `json:"xmax" validate:"required"`
	Ymin      *float64 `json:"ymin" validate:"required"`
	Ymax      *float64 `json:"ymax" validate:"required"`
}

type Position struct {
	Envelope
	Authored
	CrsWkt    string   `json:"crs_wkt" validate:"required"`
	CrsAuthid string   `json:"crs_authid" validate:"required"`
	X         *float64 `json:"x" validate:"required"`
	Y         *float64 `json:"y" validate:"required"`
}

type Model struct {
	Envelope
	Authored
	ModelName  string  `json:"model_name" validate:"required"`
	ModelGroup *string `json:"model_group"`
	RawXML     string  `json:"raw_xml" validate:"required"`
}

type Uncompliant struct {
	Envelope
	Reason string `json:"reason" validate:"required"`
}

// newVariant 判别值 -> 空变体；未知返回 nil
func newVariant(t Type) Message {
	switch t {
	case TypeText:
		return &Text{}
	case TypeImage:
		return &Image{}
	case TypeNbUsers:
		return &NbUsers{}
	case TypeNewcomer:
		return &Newcomer{}
	case TypeExiter:
		return &Exiter{}
	case TypeLike:
		return &Like{}
	case TypeGeojson:
		return &Geojson{}
	case TypeCrs:
		return &Crs{}
	case TypeBbox:
		return &Bbox{}
	case TypePosition:
		return &Position{}
	case TypeModel:
		return &Model{}
	case TypeUncompliant:
		return &Uncompliant{}
	}
	return nil
}

func NewText(author, text string) *Text {
	return &Text{Envelope: newEnvelope(TypeText), Authored: Authored{Author: author}, Text: text}
}

func NewNbUsers(n int) *NbUsers {
	return &NbUsers{Envelope: newEnvelope(TypeNbUsers), NbUsers: n}
}

func NewNewcomer(nickname string) *Newcomer {
	return &Newcomer{Envelope: newEnvelope(TypeNewcomer), Newcomer: nickname}
}

func NewExiter(nickname string) *Exiter {
	return &Exiter{Envelope: newEnvelope(TypeExiter), Exiter: nickname}
}

func NewUncompliant(reason string) *Uncompliant {
	return &Uncompliant{Envelope: newEnvelope(TypeUncompliant), Reason: reason}
}
