// Package software is a CPU renderer for scene documents built on gogpu/gg.
// Objects are drawn as flat-shaded screen-space shapes, far to near.
package software

import (
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/gg"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/scene"
	"pyro/internal/vfs"
)

// Native codes reported by Render.
const (
	CodeNotReady     = 1
	CodeModelMissing = 2
	CodeRaster       = 3
)

// nativeError carries a renderer code through the render handle.
type nativeError struct {
	code int
	msg  string
}

func (e *nativeError) Error() string   { return e.msg }
func (e *nativeError) NativeCode() int { return e.code }

type Options struct {
	// SceneCacheSize bounds the scenes retained by id.
	SceneCacheSize int
	Logger         *logger.Logger
}

// Renderer draws one frame at a time. It is not safe for concurrent use.
type Renderer struct {
	log    *logger.Logger
	scenes *scene.Registry
	fs     *vfs.FS
	dc     *gg.Context
}

func New(opts Options) *Renderer {
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault()
	}
	return &Renderer{
		log:    opts.Logger.WithComponent("renderer.software"),
		scenes: scene.NewRegistry(opts.SceneCacheSize),
	}
}

// Init mounts the resource directories below root.
func (r *Renderer) Init(root string) error {
	fs, err := vfs.MountRoot(root)
	if err != nil {
		return errors.ResourceUnavailable("resource root is not usable").
			WithField("resource_root", root).
			WithField("cause", err.Error())
	}
	r.fs = fs
	r.log.Info("resources mounted", "resource_root", root, "mounts", fs.Mounts())
	return nil
}

func (r *Renderer) SetResolution(width, height int) error {
	if r.dc == nil {
		r.dc = gg.NewContext(width, height)
		return nil
	}
	return r.dc.Resize(width, height)
}

// Render decodes payload, retains it when it carries an id, and draws it.
// The returned frame is a fresh copy.
func (r *Renderer) Render(payload []byte) ([]byte, error) {
	if r.dc == nil || r.fs == nil {
		return nil, &nativeError{code: CodeNotReady, msg: "renderer has no target"}
	}

	sc, err := scene.Decode(payload)
	if err != nil {
		return nil, err
	}

	if sc.ID == "" {
		r.log.Warn("scene has no id, it will not be retained")
	} else {
		evicted, replaced := r.scenes.Put(sc)
		r.log.Debug("scene retained", "scene_id", sc.ID, "replaced", replaced, "retained", r.scenes.Len())
		if evicted != "" {
			r.log.Debug("scene evicted", "scene_id", evicted)
		}
	}

	if err := r.draw(sc); err != nil {
		return nil, err
	}

	if err := r.dc.FlushGPU(); err != nil {
		return nil, &nativeError{code: CodeRaster, msg: err.Error()}
	}
	data := r.dc.ResizeTarget().Data()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (r *Renderer) Shutdown() error {
	r.scenes.Clear()
	if r.dc == nil {
		return nil
	}
	err := r.dc.Close()
	r.dc = nil
	return err
}

type drawable struct {
	obj scene.Object
	at  point
}

func (r *Renderer) draw(sc *scene.Scene) error {
	dc := r.dc
	dc.Identity()
	// Pixmap.Clear stores the colour as given; the rest of the buffer is
	// premultiplied.
	dc.ClearWithColor(toRGBA(sc.Background()).Premultiply())

	v := newView(sc.Camera, dc.Width(), dc.Height())

	visible := make([]drawable, 0, len(sc.Objects))
	for _, o := range sc.Objects {
		if o.Type == scene.ObjectModel && !r.fs.Exists(o.Model) {
			return &nativeError{code: CodeModelMissing, msg: fmt.Sprintf("model %q not found", o.Model)}
		}
		at, ok := v.project(o.Transform.Position)
		if !ok {
			continue
		}
		visible = append(visible, drawable{obj: o, at: at})
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].at.depth > visible[j].at.depth
	})

	for _, d := range visible {
		if err := r.drawObject(sc, d); err != nil {
			return &nativeError{code: CodeRaster, msg: err.Error()}
		}
	}
	return nil
}

func (r *Renderer) drawObject(sc *scene.Scene, d drawable) error {
	dc := r.dc
	scale := d.obj.Transform.ScaleOrUnit()
	hx := math.Abs(scale.X) * d.at.k / 2
	hy := math.Abs(scale.Y) * d.at.k / 2
	if hx < 0.25 && hy < 0.25 {
		return nil
	}

	c := shade(sc, d.obj)
	dc.SetRGBA(c.R, c.G, c.B, c.A)

	if d.obj.Type == scene.ObjectSphere {
		dc.DrawEllipse(d.at.x, d.at.y, hx, hy)
		return dc.Fill()
	}

	dc.Push()
	defer dc.Pop()
	if rz := d.obj.Transform.Rotation.Z; rz != 0 {
		dc.RotateAbout(radians(rz), d.at.x, d.at.y)
	}
	dc.DrawRectangle(d.at.x-hx, d.at.y-hy, 2*hx, 2*hy)
	if err := dc.Fill(); err != nil {
		return err
	}
	if d.obj.Type == scene.ObjectQuad {
		return nil
	}

	// cubes and models get a darker outline
	dc.SetRGBA(c.R*0.6, c.G*0.6, c.B*0.6, c.A)
	dc.SetLineWidth(1)
	dc.DrawRectangle(d.at.x-hx, d.at.y-hy, 2*hx, 2*hy)
	return dc.Stroke()
}

// shade returns the object color lit by the ambient term and every light.
// A scene without lights is drawn unlit.
func shade(sc *scene.Scene, o scene.Object) gg.RGBA {
	base := o.BaseColor()
	if len(sc.Lights) == 0 {
		return toRGBA(base)
	}

	amb := sc.Ambient()
	lr, lg, lb := amb, amb, amb
	for _, l := range sc.Lights {
		att := 1.0
		if l.Type != scene.LightDirectional {
			att = 1 / (1 + 0.1*distance2(l.Transform.Position, o.Transform.Position))
			if l.Type == scene.LightSpot {
				att *= 0.5
			}
		}
		tint, s := l.Tint(), l.Strength()*att
		lr += tint.R * s
		lg += tint.G * s
		lb += tint.B * s
	}

	return gg.RGBA{
		R: base.R * clamp01(lr),
		G: base.G * clamp01(lg),
		B: base.B * clamp01(lb),
		A: base.A,
	}
}

func toRGBA(c scene.Color) gg.RGBA {
	return gg.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
