package player

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ByLCY/telescroll/driver"
	"github.com/ByLCY/telescroll/segment"
)

var (
	// ErrUnknownCommand is returned for an unrecognized command type.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingValue is returned when a command needs a numeric value and has none.
	ErrMissingValue = errors.New("missing command value")
)

// Command types accepted by Apply.
const (
	CmdPlay          = "play"
	CmdPause         = "pause"
	CmdResume        = "resume"
	CmdStop          = "stop"
	CmdNextSegment   = "next_segment"
	CmdPrevSegment   = "prev_segment"
	CmdSetSpeed      = "set_speed"
	CmdToggleMirror  = "toggle_mirror"
	CmdResetPosition = "reset_position"
	CmdGoLive        = "go_live"
	CmdExitLive      = "exit_live"
	CmdSeek          = "seek"
	CmdSelect        = "select"
)

// Command is a playback intent, e.g. {"type":"set_speed","value":1.5}.
type Command struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value,omitempty"`
}

// ParseCommand decodes a JSON command.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("解析命令失败: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: empty type", ErrUnknownCommand)
	}
	return cmd, nil
}

func (c Command) value() (float64, error) {
	if c.Value == nil {
		return 0, fmt.Errorf("%w for %s", ErrMissingValue, c.Type)
	}
	return *c.Value, nil
}

// Apply executes cmd against the session.
func (s *Session) Apply(cmd Command) error {
	s.logger.Debug("command", "type", cmd.Type)
	switch cmd.Type {
	case CmdPlay:
		return s.Play()
	case CmdPause:
		s.Pause()
	case CmdResume:
		s.Resume()
	case CmdStop:
		s.Stop()
	case CmdNextSegment:
		return s.Next()
	case CmdPrevSegment:
		return s.Prev()
	case CmdSetSpeed:
		v, err := cmd.value()
		if err != nil {
			return err
		}
		s.SetSpeed(v)
	case CmdToggleMirror:
		return s.ToggleMirror()
	case CmdResetPosition:
		s.ResetPosition()
	case CmdGoLive:
		return s.SetLive(true)
	case CmdExitLive:
		return s.SetLive(false)
	case CmdSeek:
		v, err := cmd.value()
		if err != nil {
			return err
		}
		s.Seek(v)
	case CmdSelect:
		v, err := cmd.value()
		if err != nil {
			return err
		}
		return s.Select(int(v))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// Status is a playback snapshot, encoded with the remote-status field names.
type Status struct {
	IsPlaying      bool    `json:"is_playing"`
	State          string  `json:"state"`
	CurrentSpeed   float64 `json:"current_speed"`
	CurrentSegment *int    `json:"current_segment"`
	SegmentID      string  `json:"segment_id,omitempty"`
	TotalSegments  int     `json:"total_segments"`
	ProjectName    string  `json:"project_name"`
	Timestamp      int64   `json:"timestamp"`
	IsLive         bool    `json:"is_live"`
	Mirror         bool    `json:"mirror"`
	Offset         float64 `json:"offset"`
	Target         float64 `json:"target"`
	Progress       float64 `json:"progress"`
	FPS            float64 `json:"fps"`
	Loading        string  `json:"loading,omitempty"`
}

// Status returns the current playback snapshot.
func (s *Session) Status() Status {
	snap := s.driver.Snapshot()
	s.mu.Lock()
	st := Status{
		IsPlaying:     snap.State == driver.Playing,
		State:         snap.State.String(),
		CurrentSpeed:  snap.Rate / s.opts.BaseRate,
		TotalSegments: len(s.segs),
		ProjectName:   s.opts.ProjectName,
		Timestamp:     s.opts.Now().UnixMilli(),
		IsLive:        s.live,
		Mirror:        s.mirror,
		Offset:        snap.Offset,
		Target:        snap.Target,
		Progress:      snap.Progress,
	}
	var seg segment.Segment
	if len(s.segs) > 0 {
		cur := s.index
		seg = s.segs[cur]
		st.CurrentSegment = &cur
		st.SegmentID = seg.SegmentID()
	}
	s.mu.Unlock()

	st.FPS = s.renderer.FPS()
	if seg != nil && seg.Kind() != segment.KindText {
		st.Loading = s.renderer.LoadingState(seg).String()
	}
	return st
}
