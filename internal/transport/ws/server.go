// Package ws serves an engine.Engine to remote primitive engines over the
// CALL/RESULT protocol.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"palbridge.ai/internal/protocol"
	"palbridge.ai/internal/sim/engine"
)

// CallObserver is told about every served call.
type CallObserver interface {
	ObserveCall(method, code string, d time.Duration)
}

type Options struct {
	SceneName string
	// Paths enables the shortest_path method.
	Paths    engine.Pathfinder
	Observer CallObserver
	// MaxQueue bounds buffered RESULT frames per session.
	MaxQueue int
}

type Server struct {
	eng   engine.Engine
	paths engine.Pathfinder
	scene string
	obs   CallObserver
	maxQ  int
	log   *log.Logger

	// mu serializes calls: one simulator, many sessions.
	mu sync.Mutex

	upgrader websocket.Upgrader
}

func NewServer(eng engine.Engine, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxQ := opts.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	s := &Server{
		eng:   eng,
		paths: opts.Paths,
		scene: opts.SceneName,
		obs:   opts.Observer,
		maxQ:  maxQ,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// session holds the plans begun on one connection.
type session struct {
	id     string
	plans  map[string]engine.ActionPlan
	nextID int
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		out := make(chan []byte, s.maxQ)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handleFrame(sess, msg)
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("session %s: encode result %d: %v", sess.id, res.ID, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.log.Printf("session %s closed with %d open plans", sess.id, len(sess.plans))
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	sess := &session{id: uuid.NewString(), plans: map[string]engine.ActionPlan{}}
	info, err := s.sceneInfo()
	if err != nil {
		s.log.Printf("hello from %s: %v", hello.ClientName, err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "scene unavailable"), time.Now().Add(time.Second))
		return nil
	}
	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Scene:           info,
	}); err != nil {
		return nil
	}
	s.log.Printf("session %s: %s joined (run %s)", sess.id, hello.ClientName, hello.RunID)
	return sess
}

func (s *Server) sceneInfo() (protocol.SceneInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objs, err := s.eng.Objects()
	if err != nil {
		return protocol.SceneInfo{}, err
	}
	robot, err := s.eng.Robot()
	if err != nil {
		return protocol.SceneInfo{}, err
	}
	return protocol.SceneInfo{Name: s.scene, Objects: len(objs), Robot: robot, HasPaths: s.paths != nil}, nil
}

// handleFrame decodes one CALL and produces its RESULT. Malformed frames
// still get a RESULT so the client never waits forever.
func (s *Server) handleFrame(sess *session, msg []byte) protocol.ResultMsg {
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version}
	var call protocol.CallMsg
	if err := json.Unmarshal(msg, &call); err != nil || call.Type != protocol.TypeCall {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "expected CALL"
		return res
	}
	res.ID = call.ID
	if call.ProtocolVersion != protocol.Version {
		res.Code, res.Message = protocol.ErrBadVersion, "bad protocol_version"
		return res
	}

	start := time.Now()
	s.mu.Lock()
	v, err := s.dispatch(sess, call.Method, call.Params)
	s.mu.Unlock()

	if err != nil {
		res.Code, res.Message = codeOf(err), err.Error()
	} else if res.Result, err = json.Marshal(v); err != nil {
		res.Code, res.Message = protocol.ErrInternal, err.Error()
	} else {
		res.OK = true
	}
	if s.obs != nil {
		s.obs.ObserveCall(call.Method, res.Code, time.Since(start))
	}
	return res
}

type callError struct {
	code string
	err  error
}

func (e *callError) Error() string { return e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

func badParams(err error) error { return &callError{code: protocol.ErrBadParams, err: err} }

func codeOf(err error) string {
	var ce *callError
	if errors.As(err, &ce) {
		return ce.code
	}
	return protocol.ErrSim
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, badParams(err)
	}
	return v, nil
}

func (s *Server) dispatch(sess *session, method string, raw json.RawMessage) (any, error) {
	switch method {
	case protocol.MethodObjects:
		return s.eng.Objects()
	case protocol.MethodInstanceNames:
		return s.eng.InstanceNames()
	case protocol.MethodRobot:
		h, err := s.eng.Robot()
		return protocol.HandleReply{Handle: h}, err
	case protocol.MethodPose:
		a, err := decode[protocol.HandleArgs](raw)
		if err != nil {
			return nil, err
		}
		return s.eng.Pose(a.Handle)
	case protocol.MethodSetPose:
		a, err := decode[protocol.SetPoseArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.eng.SetPose(a.Handle, a.Pose)
	case protocol.MethodAABB:
		a, err := decode[protocol.HandleArgs](raw)
		if err != nil {
			return nil, err
		}
		return s.eng.AABB(a.Handle)
	case protocol.MethodNativeSize:
		a, err := decode[protocol.HandleArgs](raw)
		if err != nil {
			return nil, err
		}
		size, ok, err := s.eng.NativeSize(a.Handle)
		return protocol.SizeReply{Size: size, OK: ok}, err
	case protocol.MethodImmovable:
		a, err := decode[protocol.HandleArgs](raw)
		if err != nil {
			return nil, err
		}
		v, err := s.eng.Immovable(a.Handle)
		return protocol.BoolReply{Value: v}, err
	case protocol.MethodSetImmovable:
		a, err := decode[protocol.SetImmovableArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.eng.SetImmovable(a.Handle, a.Value)
	case protocol.MethodZeroVelocity:
		a, err := decode[protocol.HandleArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.eng.ZeroVelocity(a.Handle)
	case protocol.MethodEvaluate:
		a, err := decode[protocol.EvaluateArgs](raw)
		if err != nil {
			return nil, err
		}
		v, err := s.eng.Evaluate(a.Kind, a.Handle, a.Other)
		return protocol.BoolReply{Value: v}, err
	case protocol.MethodStep:
		a, err := decode[protocol.StepArgs](raw)
		if err != nil {
			return nil, err
		}
		return s.eng.Step(a.Action)
	case protocol.MethodHeld:
		h, ok, err := s.eng.Held()
		return protocol.HeldReply{Handle: h, Holding: ok}, err
	case protocol.MethodReleaseImmediately:
		return struct{}{}, s.eng.ReleaseImmediately()
	case protocol.MethodSetHead:
		a, err := decode[protocol.HeadArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.eng.SetHeadPanTilt(a.Pan, a.Tilt)
	case protocol.MethodBegin:
		a, err := decode[protocol.BeginArgs](raw)
		if err != nil {
			return nil, err
		}
		p, err := s.eng.Begin(a.Kind, a.Target)
		if err != nil {
			return nil, err
		}
		sess.nextID++
		id := "p" + strconv.Itoa(sess.nextID)
		sess.plans[id] = p
		return protocol.BeginReply{Plan: id}, nil
	case protocol.MethodAdvance:
		a, err := decode[protocol.AdvanceArgs](raw)
		if err != nil {
			return nil, err
		}
		p, ok := sess.plans[a.Plan]
		if !ok {
			return nil, &callError{code: protocol.ErrUnknownPlan, err: fmt.Errorf("no plan %q", a.Plan)}
		}
		act, done, err := p.Advance()
		if err != nil || done {
			delete(sess.plans, a.Plan)
		}
		return protocol.AdvanceReply{Action: act, Done: done}, err
	case protocol.MethodSampleInside, protocol.MethodSampleOnTop:
		a, err := decode[protocol.SampleArgs](raw)
		if err != nil {
			return nil, err
		}
		var v bool
		if method == protocol.MethodSampleInside {
			v, err = s.eng.SampleInside(a.Object, a.Target, a.Attempts)
		} else {
			v, err = s.eng.SampleOnTop(a.Object, a.Target, a.Attempts)
		}
		return protocol.BoolReply{Value: v}, err
	case protocol.MethodShortestPath:
		if s.paths == nil {
			return nil, &callError{code: protocol.ErrUnsupported, err: errors.New("no path service")}
		}
		a, err := decode[protocol.PathArgs](raw)
		if err != nil {
			return nil, err
		}
		pts, err := s.paths.ShortestPath(a.Floor, a.Src, a.Dst, a.FullPath, a.RobotErosion)
		return protocol.PathReply{Points: pts}, err
	}
	return nil, &callError{code: protocol.ErrUnknownMethod, err: fmt.Errorf("no method %q", method)}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
