package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFormat(t *testing.T) {
	require.Equal(t, "json", resolveFormat("", true, true))
	require.Equal(t, "console", resolveFormat("auto", false, true))
	require.Equal(t, "logfmt", resolveFormat("", false, false))
	require.Equal(t, "logfmt", resolveFormat("LOGFMT", true, true))
}

func TestInit_LogfmtOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Env: "dev", Level: "debug", Format: "logfmt", ServiceName: "portalgate", Output: &buf})
	t.Cleanup(func() { Init(Config{Env: "dev", Level: "info"}) })

	L().Info("gate cycle", State("LANDED"))
	out := buf.String()
	require.Contains(t, out, "level=info")
	require.Contains(t, out, "state=LANDED")
	require.Contains(t, out, "service=portalgate")
}

func TestFrom_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{Env: "dev", Level: "info"}) })

	From(context.Background()).Info("x")
	scoped := ToContext(context.Background(), L().With(RequestID("rid-1")))
	From(scoped).Info("y")
	require.Contains(t, buf.String(), `"request_id":"rid-1"`)
}

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "a…@e….com", MaskEmail(" Ana.Perez@Example.com "))
	require.Equal(t, "a@e….org", MaskEmail("a@eve.org"))
	require.Equal(t, "***", MaskEmail("abc"))
	require.Equal(t, "", MaskEmail(""))
}
