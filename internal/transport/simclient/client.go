// Package simclient implements engine.Engine against a simulator served over
// the CALL/RESULT protocol.
package simclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"palbridge.ai/internal/protocol"
	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/geom"
)

const callTimeout = 30 * time.Second

// Client is safe for concurrent use; calls are serialized on the wire.
type Client struct {
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
	log     *log.Logger

	mu     sync.Mutex
	nextID uint64
}

var (
	_ engine.Engine     = (*Client)(nil)
	_ engine.Pathfinder = (*Client)(nil)
)

// Dial connects and completes the HELLO/WELCOME handshake.
func Dial(ctx context.Context, url, clientName, runID string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, log: logger}
	if err := c.writeJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      clientName,
		RunID:           runID,
	}); err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := json.Unmarshal(msg, &c.welcome); err != nil || c.welcome.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("handshake: expected WELCOME")
	}
	logger.Printf("connected to %s: session %s, %d objects", url, c.welcome.SessionID, c.welcome.Scene.Objects)
	return c, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Scene is what the server announced at handshake.
func (c *Client) Scene() protocol.SceneInfo { return c.welcome.Scene }

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// call sends one CALL and waits for its RESULT; reply may be nil.
func (c *Client) call(method string, params, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	msg := protocol.CallMsg{
		Type:            protocol.TypeCall,
		ProtocolVersion: protocol.Version,
		ID:              c.nextID,
		Method:          method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		msg.Params = raw
	}
	if err := c.writeJSON(msg); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(callTimeout))
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(b, &res); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		if res.ID != msg.ID {
			c.log.Printf("dropping stale result %d while waiting for %d", res.ID, msg.ID)
			continue
		}
		if !res.OK {
			return &protocol.Error{Method: method, Code: res.Code, Message: res.Message}
		}
		if reply == nil || len(res.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.Result, reply); err != nil {
			return fmt.Errorf("%s: decode reply: %w", method, err)
		}
		return nil
	}
}

func (c *Client) Objects() ([]engine.ObjectInfo, error) {
	var out []engine.ObjectInfo
	err := c.call(protocol.MethodObjects, nil, &out)
	return out, err
}

func (c *Client) InstanceNames() (map[string]string, error) {
	out := map[string]string{}
	err := c.call(protocol.MethodInstanceNames, nil, &out)
	return out, err
}

func (c *Client) Robot() (engine.Handle, error) {
	var r protocol.HandleReply
	err := c.call(protocol.MethodRobot, nil, &r)
	return r.Handle, err
}

func (c *Client) Pose(h engine.Handle) (geom.Pose, error) {
	var p geom.Pose
	err := c.call(protocol.MethodPose, protocol.HandleArgs{Handle: h}, &p)
	return p, err
}

func (c *Client) SetPose(h engine.Handle, p geom.Pose) error {
	return c.call(protocol.MethodSetPose, protocol.SetPoseArgs{Handle: h, Pose: p}, nil)
}

func (c *Client) AABB(h engine.Handle) (geom.AABB, error) {
	var b geom.AABB
	err := c.call(protocol.MethodAABB, protocol.HandleArgs{Handle: h}, &b)
	return b, err
}

func (c *Client) NativeSize(h engine.Handle) (geom.Vec3, bool, error) {
	var r protocol.SizeReply
	err := c.call(protocol.MethodNativeSize, protocol.HandleArgs{Handle: h}, &r)
	return r.Size, r.OK, err
}

func (c *Client) Immovable(h engine.Handle) (bool, error) {
	var r protocol.BoolReply
	err := c.call(protocol.MethodImmovable, protocol.HandleArgs{Handle: h}, &r)
	return r.Value, err
}

func (c *Client) SetImmovable(h engine.Handle, v bool) error {
	return c.call(protocol.MethodSetImmovable, protocol.SetImmovableArgs{Handle: h, Value: v}, nil)
}

func (c *Client) ZeroVelocity(h engine.Handle) error {
	return c.call(protocol.MethodZeroVelocity, protocol.HandleArgs{Handle: h}, nil)
}

func (c *Client) Evaluate(kind engine.PredicateKind, h, other engine.Handle) (bool, error) {
	var r protocol.BoolReply
	err := c.call(protocol.MethodEvaluate, protocol.EvaluateArgs{Kind: kind, Handle: h, Other: other}, &r)
	return r.Value, err
}

func (c *Client) Step(a engine.Action) (engine.StepResult, error) {
	var r engine.StepResult
	err := c.call(protocol.MethodStep, protocol.StepArgs{Action: a}, &r)
	return r, err
}

func (c *Client) Held() (engine.Handle, bool, error) {
	var r protocol.HeldReply
	err := c.call(protocol.MethodHeld, nil, &r)
	return r.Handle, r.Holding, err
}

func (c *Client) ReleaseImmediately() error {
	return c.call(protocol.MethodReleaseImmediately, nil, nil)
}

func (c *Client) SetHeadPanTilt(pan, tilt float64) error {
	return c.call(protocol.MethodSetHead, protocol.HeadArgs{Pan: pan, Tilt: tilt}, nil)
}

func (c *Client) Begin(kind engine.ActionKind, target engine.Handle) (engine.ActionPlan, error) {
	var r protocol.BeginReply
	if err := c.call(protocol.MethodBegin, protocol.BeginArgs{Kind: kind, Target: target}, &r); err != nil {
		return nil, err
	}
	return &plan{c: c, id: r.Plan}, nil
}

func (c *Client) SampleInside(obj, container engine.Handle, attempts int) (bool, error) {
	var r protocol.BoolReply
	err := c.call(protocol.MethodSampleInside, protocol.SampleArgs{Object: obj, Target: container, Attempts: attempts}, &r)
	return r.Value, err
}

func (c *Client) SampleOnTop(obj, target engine.Handle, attempts int) (bool, error) {
	var r protocol.BoolReply
	err := c.call(protocol.MethodSampleOnTop, protocol.SampleArgs{Object: obj, Target: target, Attempts: attempts}, &r)
	return r.Value, err
}

func (c *Client) ShortestPath(floor int, src, dst geom.Vec2, fullPath, robotErosion bool) ([]geom.Vec2, error) {
	var r protocol.PathReply
	err := c.call(protocol.MethodShortestPath, protocol.PathArgs{
		Floor:        floor,
		Src:          src,
		Dst:          dst,
		FullPath:     fullPath,
		RobotErosion: robotErosion,
	}, &r)
	return r.Points, err
}

// plan is a server-side action plan advanced one call per tick.
type plan struct {
	c  *Client
	id string
}

func (p *plan) Advance() (engine.Action, bool, error) {
	var r protocol.AdvanceReply
	err := p.c.call(protocol.MethodAdvance, protocol.AdvanceArgs{Plan: p.id}, &r)
	return r.Action, r.Done, err
}
