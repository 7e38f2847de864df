//go:build linux && cgo

package input

/*
#cgo pkg-config: x11 xtst
#include <X11/Xlib.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>

static Display* input_display = NULL;

static int input_init(const char *display_name) {
	input_display = XOpenDisplay(display_name);
	if (!input_display) return -1;
	return 0;
}

static void input_mouse_move_abs(int x, int y) {
	if (!input_display) return;
	XTestFakeMotionEvent(input_display, DefaultScreen(input_display), x, y, 0);
	XFlush(input_display);
}

static void input_mouse_button(int button, int press) {
	if (!input_display) return;
	XTestFakeButtonEvent(input_display, button, press, 0);
	XFlush(input_display);
}

static void input_destroy() {
	if (input_display) {
		XCloseDisplay(input_display);
		input_display = NULL;
	}
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/rs/zerolog"
)

// XTest drives the core X pointer with the XTest extension. Only one may
// be open per process.
type XTest struct{}

func OpenXTest(displayName string) (*XTest, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	if C.input_init(cDisplay) != 0 {
		return nil, fmt.Errorf("failed to open display for input: %s", displayName)
	}
	return &XTest{}, nil
}

func (XTest) MoveTo(x, y int) { C.input_mouse_move_abs(C.int(x), C.int(y)) }
func (XTest) Press()          { C.input_mouse_button(C.int(1), C.int(1)) }
func (XTest) Release()        { C.input_mouse_button(C.int(1), C.int(0)) }
func (XTest) Close()          { C.input_destroy() }

// NewXTestInjector replays strokes on displayName as left-button drags.
func NewXTestInjector(displayName string, log zerolog.Logger) (*Replayer, error) {
	dev, err := OpenXTest(displayName)
	if err != nil {
		return nil, err
	}
	log.Info().Str("display", displayName).Msg("input: XTest")
	return NewReplayer(dev, ReplayOptions{}, log), nil
}
