package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied when a request leaves a field unset.
const (
	DefaultPosition         = "BottomRight"
	DefaultDoorbellDuration = 30
	endTimeLayout           = "15:04:05"
)

// AlertKeys are the notify data keys forwarded to the display.
var AlertKeys = []string{
	"name",
	"type",
	"position",
	"duration",
	"voiceMessageEnabled",
	"voiceMessage",
	"voiceMessageDelay",
	"flashAnimationEnabled",
	"flashAnimationRepeatCount",
	"flashAnimationInitialDelay",
	"notificationSoundEnabled",
	"notificationSound",
	"notificationSoundName",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request struct's validation tags.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

// Targets lists the entity IDs, unique IDs or names a command is aimed at.
type Targets struct {
	EntityID []string `json:"entity_id,omitempty" validate:"omitempty,dive,required"`
}

// StartTimerRequest starts a countdown. Minutes wins over EndTime, which
// wins over Seconds.
type StartTimerRequest struct {
	Targets
	Seconds  int    `json:"seconds,omitempty" validate:"gte=0"`
	Minutes  int    `json:"minutes,omitempty" validate:"gte=0"`
	EndTime  string `json:"endTime,omitempty" validate:"omitempty,datetime=15:04:05"`
	Position string `json:"position,omitempty"`
	Duration *int   `json:"duration,omitempty" validate:"omitempty,gt=0"`
	Voice    *bool  `json:"voice,omitempty"`
	Type     string `json:"type,omitempty"`
}

// StartTimerPayload is the POST /timer body.
type StartTimerPayload struct {
	Seconds   int    `json:"seconds"`
	Position  string `json:"position"`
	Duration  int    `json:"duration"`
	Voice     bool   `json:"voice"`
	Type      string `json:"type"`
	StartTime int64  `json:"startTime"`
}

// BuildStartTimer validates req and builds the payload. EndTime is a local
// wall-clock time today relative to now. defaultType is used when req.Type
// is empty.
func BuildStartTimer(req StartTimerRequest, now time.Time, defaultType string) (StartTimerPayload, error) {
	if err := Validate(req); err != nil {
		return StartTimerPayload{}, err
	}

	seconds := req.Seconds
	if req.EndTime != "" {
		clock, err := time.Parse(endTimeLayout, req.EndTime)
		if err != nil {
			return StartTimerPayload{}, fmt.Errorf("%w: endTime: %v", ErrInvalidRequest, err)
		}
		end := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location())
		seconds = int(end.Sub(now) / time.Second)
		if end.Before(now) {
			return StartTimerPayload{}, fmt.Errorf("%w: %s is before %s", ErrEndTimeInPast, req.EndTime, now.Format(endTimeLayout))
		}
	}
	if req.Minutes > 0 {
		seconds = req.Minutes * 60
	}
	if seconds <= 0 {
		return StartTimerPayload{}, ErrNoDuration
	}

	p := StartTimerPayload{
		Seconds:   seconds,
		Position:  req.Position,
		Duration:  seconds,
		Voice:     true,
		Type:      req.Type,
		StartTime: now.UnixMilli(),
	}
	if p.Position == "" {
		p.Position = DefaultPosition
	}
	if req.Duration != nil {
		p.Duration = *req.Duration
	}
	if req.Voice != nil {
		p.Voice = *req.Voice
	}
	if p.Type == "" {
		p.Type = defaultType
	}
	return p, nil
}

// CancelRequest cancels every timer on the targeted displays.
type CancelRequest struct {
	Targets
}

// CancelPayload is the POST /cancel body for cancel_all.
type CancelPayload struct{}

// DoorbellRequest shows the doorbell overlay.
type DoorbellRequest struct {
	Targets
	Duration *int   `json:"duration,omitempty" validate:"omitempty,gt=0"`
	Video    string `json:"video,omitempty" validate:"omitempty,url"`
}

// DoorbellPayload is the POST /doorbell body.
type DoorbellPayload struct {
	Duration int    `json:"duration"`
	VideoURI string `json:"videoUri"`
}

// BuildDoorbell validates req and builds the payload.
func BuildDoorbell(req DoorbellRequest) (DoorbellPayload, error) {
	if err := Validate(req); err != nil {
		return DoorbellPayload{}, err
	}
	p := DoorbellPayload{Duration: DefaultDoorbellDuration, VideoURI: req.Video}
	if req.Duration != nil {
		p.Duration = *req.Duration
	}
	return p, nil
}

// DismissRequest dismisses one named timer.
type DismissRequest struct {
	Targets
	Name string `json:"name"`
}

// DismissPayload is the POST /cancel body for dismiss.
type DismissPayload struct {
	Name string `json:"name"`
}

// BuildDismiss validates req and builds the payload.
func BuildDismiss(req DismissRequest) (DismissPayload, error) {
	if err := Validate(req); err != nil {
		return DismissPayload{}, err
	}
	return DismissPayload{Name: req.Name}, nil
}

// NotifyRequest shows an alert.
type NotifyRequest struct {
	Targets
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message" validate:"required"`
	Data    map[string]any `json:"data,omitempty"`
}

// BuildAlert validates req and builds the POST /alert body: the allowed
// data keys plus title and text.
func BuildAlert(req NotifyRequest) (map[string]any, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(AlertKeys)+2)
	for _, k := range AlertKeys {
		if v, ok := req.Data[k]; ok {
			payload[k] = v
		}
	}
	payload["title"] = req.Title
	payload["text"] = req.Message
	return payload, nil
}
