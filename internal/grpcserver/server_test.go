package grpcserver

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/prefs"
)

func startServer(t *testing.T, limiter *rate.Limiter) (*Client, *prefs.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := prefs.New(prefs.NewMemoryKV(), log)
	srv := New(
		collection.NewLoader(nil, nil, 1, log),
		export.NewSequencer(nil, nil, log),
		store, limiter, log,
	)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return NewClient(conn), store
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestCompose(t *testing.T) {
	c, _ := startServer(t, nil)

	res, err := c.Compose(context.Background(), "dune.png", pngBytes(t, 100, 50), map[string]string{
		frame.FieldRatio:  "4:5",
		frame.FieldBorder: "8",
	})
	require.NoError(t, err)
	assert.Equal(t, 80, res.Width)
	assert.Equal(t, 100, res.Height)
	assert.Equal(t, "dune_portrait.png", res.Filename)

	cfg, err := png.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Width)
	assert.Equal(t, 100, cfg.Height)
}

func TestComposeUsesSavedPreferences(t *testing.T) {
	c, store := startServer(t, nil)
	p := frame.DefaultParams()
	p.AspectRatio = "16:9"
	require.NoError(t, store.Save(p))

	res, err := c.Compose(context.Background(), "a.png", pngBytes(t, 32, 32), nil)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Width)
	assert.Equal(t, 18, res.Height)

	fields, err := c.Preferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "16:9", fields[frame.FieldRatio])
}

func TestComposeInvalidArgument(t *testing.T) {
	c, _ := startServer(t, nil)
	ctx := context.Background()

	cases := map[string]struct {
		data   []byte
		fields map[string]string
	}{
		"unknown ratio":  {pngBytes(t, 4, 4), map[string]string{frame.FieldRatio: "5:4"}},
		"border too big": {pngBytes(t, 4, 4), map[string]string{frame.FieldBorder: "201"}},
		"not an image":   {[]byte("junk"), nil},
		"no image":       {nil, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Compose(ctx, "x.png", tc.data, tc.fields)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestComposeRateLimited(t *testing.T) {
	c, _ := startServer(t, rate.NewLimiter(rate.Limit(0.001), 1))
	ctx := context.Background()
	img := pngBytes(t, 4, 4)

	_, err := c.Compose(ctx, "a.png", img, nil)
	require.NoError(t, err)
	_, err = c.Compose(ctx, "a.png", img, nil)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Catalog lookups are not limited.
	_, err = c.AspectRatios(ctx)
	assert.NoError(t, err)
}

func TestAspectRatios(t *testing.T) {
	c, _ := startServer(t, nil)
	keys, err := c.AspectRatios(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1:1", "3:2", "16:9", "4:3", "4:5", "9:16", "2:3"}, keys)
}
