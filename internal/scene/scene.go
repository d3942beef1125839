// Package scene decodes and validates the JSON scene documents submitted for
// rendering, and keeps the scene state shared between renders.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"pyro/internal/pkg/errors"
	"pyro/internal/vfs"
)

// Camera modes.
const (
	ModePerspective  = "perspective"
	ModeOrthographic = "orthographic"
)

// Object types.
const (
	ObjectQuad   = "quad"
	ObjectCube   = "cube"
	ObjectSphere = "sphere"
	ObjectModel  = "model"
)

// Light types.
const (
	LightDirectional = "directional"
	LightPoint       = "point"
	LightSpot        = "spot"
)

// Defaults applied by Decode.
const (
	DefaultFOV              = 70.0
	DefaultOrthoHeight      = 10.0
	DefaultAmbientIntensity = 0.2
	DefaultLightIntensity   = 1.0
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Color components are in [0,1]. A missing alpha decodes as opaque.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

func (c *Color) UnmarshalJSON(data []byte) error {
	type plain Color
	p := plain{A: 1}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Color(p)
	return nil
}

var (
	Black = Color{A: 1}
	White = Color{R: 1, G: 1, B: 1, A: 1}
)

// Transform places a node in world space. Rotation is in degrees.
type Transform struct {
	Position Vec3  `json:"position"`
	Scale    *Vec3 `json:"scale,omitempty"`
	Rotation Vec3  `json:"rotation"`
}

// ScaleOrUnit returns the scale, defaulting to 1 on every axis.
func (t Transform) ScaleOrUnit() Vec3 {
	if t.Scale == nil {
		return Vec3{X: 1, Y: 1, Z: 1}
	}
	return *t.Scale
}

// Camera looks down its local -Z axis. For orthographic cameras FOV is the
// visible height in world units.
type Camera struct {
	Transform Transform `json:"transform"`
	Mode      string    `json:"mode"`
	FOV       float64   `json:"fov"`
}

type Material struct {
	Color     *Color  `json:"color,omitempty"`
	Roughness float64 `json:"roughness"`
	Metallic  float64 `json:"metallic"`
}

type Object struct {
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Model     string    `json:"model,omitempty"`
	Transform Transform `json:"transform"`
	Material  Material  `json:"material"`
}

// BaseColor returns the material color, white when unset.
func (o Object) BaseColor() Color {
	if o.Material.Color == nil {
		return White
	}
	return *o.Material.Color
}

type Light struct {
	Type      string    `json:"type"`
	Color     *Color    `json:"color,omitempty"`
	Intensity *float64  `json:"intensity,omitempty"`
	Transform Transform `json:"transform"`
	Direction Vec3      `json:"direction"`
}

// Tint returns the light color, white when unset.
func (l Light) Tint() Color {
	if l.Color == nil {
		return White
	}
	return *l.Color
}

// Strength returns the light intensity, DefaultLightIntensity when unset.
func (l Light) Strength() float64 {
	if l.Intensity == nil {
		return DefaultLightIntensity
	}
	return *l.Intensity
}

type Settings struct {
	ClearColor       *Color   `json:"clear_color,omitempty"`
	AmbientIntensity *float64 `json:"ambient_intensity,omitempty"`
}

// Scene is a decoded, validated scene document.
type Scene struct {
	ID       string   `json:"id,omitempty"`
	Camera   *Camera  `json:"camera"`
	Settings Settings `json:"settings"`
	Objects  []Object `json:"objects"`
	Lights   []Light  `json:"lights"`
}

// Background returns the clear color, black when unset.
func (s *Scene) Background() Color {
	if s.Settings.ClearColor == nil {
		return Black
	}
	return *s.Settings.ClearColor
}

// Ambient returns the ambient light intensity.
func (s *Scene) Ambient() float64 {
	if s.Settings.AmbientIntensity == nil {
		return DefaultAmbientIntensity
	}
	return *s.Settings.AmbientIntensity
}

// Decode parses and validates a scene payload. Every failure is an
// INVALID_PAYLOAD error.
func Decode(payload []byte) (*Scene, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errors.InvalidPayload("scene payload is empty", nil)
	}

	var s Scene
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, errors.InvalidPayload("scene is not valid JSON", err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate is Decode for callers that only need the verdict; it fits
// render.Validator.
func Validate(payload []byte) error {
	_, err := Decode(payload)
	return err
}

func (s *Scene) normalize() error {
	s.ID = strings.TrimSpace(s.ID)

	if s.Camera == nil {
		return invalidField("camera", "scene has no camera")
	}
	cam := s.Camera
	cam.Mode = strings.ToLower(strings.TrimSpace(cam.Mode))
	switch cam.Mode {
	case "":
		cam.Mode = ModePerspective
		fallthrough
	case ModePerspective:
		if cam.FOV == 0 {
			cam.FOV = DefaultFOV
		}
		if cam.FOV <= 0 || cam.FOV >= 180 {
			return invalidField("camera.fov", fmt.Sprintf("perspective fov must be in (0,180), got %g", cam.FOV))
		}
	case ModeOrthographic:
		if cam.FOV == 0 {
			cam.FOV = DefaultOrthoHeight
		}
		if cam.FOV < 0 {
			return invalidField("camera.fov", "orthographic view height must be positive")
		}
	default:
		return invalidField("camera.mode", fmt.Sprintf("unknown camera mode %q", cam.Mode))
	}

	for i := range s.Objects {
		o := &s.Objects[i]
		o.Type = strings.ToLower(strings.TrimSpace(o.Type))
		switch o.Type {
		case ObjectQuad, ObjectCube, ObjectSphere:
		case ObjectModel:
			o.Model = strings.TrimSpace(o.Model)
			if o.Model == "" {
				return invalidField(fmt.Sprintf("objects[%d].model", i), "model object needs a model path")
			}
			if !vfs.IsVirtual(o.Model) {
				return invalidField(fmt.Sprintf("objects[%d].model", i),
					fmt.Sprintf("model path %q must be a resource path such as /models/cat.obj", o.Model))
			}
		default:
			return invalidField(fmt.Sprintf("objects[%d].type", i), fmt.Sprintf("unknown object type %q", o.Type))
		}
	}

	for i := range s.Lights {
		l := &s.Lights[i]
		l.Type = strings.ToLower(strings.TrimSpace(l.Type))
		switch l.Type {
		case LightDirectional, LightPoint, LightSpot:
		default:
			return invalidField(fmt.Sprintf("lights[%d].type", i), fmt.Sprintf("unknown light type %q", l.Type))
		}
		if l.Strength() < 0 {
			return invalidField(fmt.Sprintf("lights[%d].intensity", i), "light intensity must not be negative")
		}
	}

	if s.Ambient() < 0 {
		return invalidField("settings.ambient_intensity", "ambient intensity must not be negative")
	}
	return nil
}

func invalidField(field, msg string) *errors.Error {
	return errors.InvalidPayload(msg, nil).WithField("field", field)
}
