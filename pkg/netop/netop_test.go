package netop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefd/corerun/pkg/driver"
	"github.com/corefd/corerun/pkg/iobuf"
)

// pump drives drv.Park in a loop on its own goroutine until stop fires:
// a dedicated thread whose only job is to keep calling Park so blocking
// Op.Poll calls elsewhere can unblock when their completions land.
func pump(t *testing.T, drv driver.Driver, stop <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d := 5 * time.Millisecond
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = drv.Park(&d)
		}
	}()
	t.Cleanup(func() { <-done })
}

func newTestDriver(t *testing.T) driver.Driver {
	t.Helper()
	d, err := driver.New(driver.KindAuto, 0)
	if err != nil {
		t.Skipf("driver unavailable in this sandbox: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestTCPEchoRoundTrip(t *testing.T) {
	drv := newTestDriver(t)
	stop := make(chan struct{})
	pump(t, drv, stop)
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := ListenTCP(drv, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close(ctx)

	addr, err := ln.Addr()
	require.NoError(t, err)

	acceptedCh := make(chan *TCPStream, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptedCh <- s
	}()

	client, err := DialTCP(ctx, drv, addr.String())
	require.NoError(t, err)
	defer client.Close(ctx)

	var server *TCPStream
	select {
	case server = <-acceptedCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close(ctx)

	msg := []byte("ping")
	n, err := client.Write(ctx, iobuf.NewFixedBuf(msg))
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	recvBuf := iobuf.NewFixedBuf(make([]byte, 64))
	n, err = server.Read(ctx, recvBuf)
	require.NoError(t, err)
	assert.Equal(t, msg, recvBuf.Bytes()[:n])

	reply := []byte("pong")
	n, err = server.Write(ctx, iobuf.NewFixedBuf(reply))
	require.NoError(t, err)
	assert.Equal(t, len(reply), n)

	recvBuf2 := iobuf.NewFixedBuf(make([]byte, 64))
	n, err = client.Read(ctx, recvBuf2)
	require.NoError(t, err)
	assert.Equal(t, reply, recvBuf2.Bytes()[:n])
}

// TestAcceptCancellationClosesFd exercises the scenario where an accept
// is cancelled after the connection has already landed in the kernel's
// backlog: Drop must not leak whatever fd the syscall may have already
// produced.
func TestAcceptCancellationClosesFd(t *testing.T) {
	drv := newTestDriver(t)
	stop := make(chan struct{})
	pump(t, drv, stop)
	defer close(stop)

	ln, err := ListenTCP(drv, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close(context.Background())

	addr, err := ln.Addr()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	acceptDone := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		acceptDone <- err
	}()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	client, err := DialTCP(dialCtx, drv, addr.String())
	require.NoError(t, err)
	defer client.Close(context.Background())

	// Cancel the accept; whether it raced the kernel's connection
	// delivery or not, Accept must return an error and must not panic
	// or leak the descriptor (MaybeFd.Close handles that internally).
	cancel()

	select {
	case err := <-acceptDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return after cancellation")
	}
}

func TestSplitAndReunite(t *testing.T) {
	drv := newTestDriver(t)
	stop := make(chan struct{})
	pump(t, drv, stop)
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := ListenTCP(drv, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close(ctx)

	addr, err := ln.Addr()
	require.NoError(t, err)

	acceptedCh := make(chan *TCPStream, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptedCh <- s
	}()

	client, err := DialTCP(ctx, drv, addr.String())
	require.NoError(t, err)

	var server *TCPStream
	select {
	case server = <-acceptedCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close(ctx)

	r, w := client.IntoSplit()
	reunited, err := Reunite(r, w)
	require.NoError(t, err)
	defer reunited.Close(ctx)

	_, serverW := server.IntoSplit()
	_, err = Reunite(r, serverW)
	assert.Error(t, err)
	var reuniteErr *ReuniteError
	assert.ErrorAs(t, err, &reuniteErr)
}
