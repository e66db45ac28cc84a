package chat

import (
	"context"
	"fmt"

	"gischat/module/message"
	"gischat/tools/errs"

	"go.uber.org/zap"
)

// frameHandler 处理一条已通过校验的客户端消息
type frameHandler func(d *Dispatcher, ctx context.Context, c *Client, msg message.Message) error

// frameHandlers 判别值 -> 处理函数；nb_users / exiter / uncompliant 只由服务端产生，客户端发来直接忽略
var frameHandlers = map[message.Type]frameHandler{
	message.TypeText:     (*Dispatcher).handleText,
	message.TypeImage:    (*Dispatcher).handleImage,
	message.TypeNewcomer: (*Dispatcher).handleNewcomer,
	message.TypeLike:     (*Dispatcher).handleLike,
	message.TypeGeojson:  (*Dispatcher).handleGeojson,
	message.TypeCrs:      (*Dispatcher).handleShared,
	message.TypeBbox:     (*Dispatcher).handleShared,
	message.TypePosition: (*Dispatcher).handleShared,
	message.TypeModel:    (*Dispatcher).handleShared,
}

// HandleFrame 处理 websocket 收到的一帧
func (d *Dispatcher) HandleFrame(ctx context.Context, c *Client, raw []byte) error {
	msg, err := d.parser.DecodeJSON(raw)
	if err != nil {
		// 解析/校验失败的通知沿用旧行为：广播给整个房间
		reason := message.Reason(err)
		d.log.Warn("[chat] uncompliant message", zap.String("room", c.Room), zap.String("conn", c.ConnID), zap.String("reason", reason))
		return d.Broadcast(ctx, c.Room, message.NewUncompliant(reason))
	}

	h, ok := frameHandlers[msg.MessageType()]
	if !ok {
		d.log.Debug("[chat] ignore server-side message type", zap.String("room", c.Room), zap.String("type", string(msg.MessageType())))
		return nil
	}
	return h(d, ctx, c, msg)
}

func (d *Dispatcher) handleText(ctx context.Context, c *Client, msg message.Message) error {
	t := msg.(*message.Text)
	d.log.Info("[chat] text", zap.String("room", c.Room), zap.String("author", t.Author), zap.String("text", t.Text))
	return d.Broadcast(ctx, c.Room, t)
}

func (d *Dispatcher) handleImage(ctx context.Context, c *Client, msg message.Message) error {
	img := msg.(*message.Image)
	data, err := d.shrinker.ShrinkBase64(img.ImageData)
	if err != nil {
		d.SendTo(c, message.NewUncompliant("Image could not be processed: "+message.Reason(err)))
		return err
	}
	img.ImageData = data
	d.log.Info("[chat] image shared", zap.String("room", c.Room), zap.String("author", img.Author))
	return d.Broadcast(ctx, c.Room, img)
}

func (d *Dispatcher) handleNewcomer(ctx context.Context, c *Client, msg message.Message) error {
	return d.RegisterUser(ctx, c, msg.(*message.Newcomer).Newcomer)
}

func (d *Dispatcher) handleLike(ctx context.Context, c *Client, msg message.Message) error {
	l := msg.(*message.Like)
	d.log.Info("[chat] like", zap.String("room", c.Room), zap.String("liker", l.LikerAuthor), zap.String("liked", l.LikedAuthor))
	return d.Broadcast(ctx, c.Room, l)
}

// handleGeojson 超过要素上限只通知发送方，不广播也不入历史
func (d *Dispatcher) handleGeojson(ctx context.Context, c *Client, msg message.Message) error {
	g := msg.(*message.Geojson)
	n := g.FeatureCount()
	if limit := d.opts.MaxGeojsonFeatures; limit > 0 && n > limit {
		reason := fmt.Sprintf("Too many geojson features : %d vs max %d allowed", n, limit)
		d.log.Warn("[chat] geojson rejected", zap.String("room", c.Room), zap.String("author", g.Author),
			zap.String("layer", g.LayerName), zap.Int("features", n))
		d.SendTo(c, message.NewUncompliant(reason))
		return errs.ErrGeojsonLimit.WrapMsg(reason)
	}
	d.log.Info("[chat] geojson shared", zap.String("room", c.Room), zap.String("author", g.Author),
		zap.String("layer", g.LayerName), zap.Int("features", n), zap.String("crs", g.CrsAuthid))
	return d.Broadcast(ctx, c.Room, g)
}

// handleShared crs / bbox / position / model：原样广播并入历史
func (d *Dispatcher) handleShared(ctx context.Context, c *Client, msg message.Message) error {
	d.log.Info("[chat] shared", zap.String("room", c.Room), zap.String("type", string(msg.MessageType())))
	return d.Broadcast(ctx, c.Room, msg)
}
