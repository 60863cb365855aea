package collector

import (
	"context"
	"net"
	"testing"

	tap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"pbcollector/internal/dnstap"
	"pbcollector/internal/log"
	"pbcollector/internal/telemetry"
)

func TestDnstapEndpoint(t *testing.T) {
	c, err := New(Opts{Endpoints: []EndpointOpts{
		{Name: "primary", Addr: "127.0.0.1:0"},
		{Name: "dnstap", Addr: "127.0.0.1:0", Dnstap: true},
	}}, NoopHooks(), log.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Listen())
	go c.Serve()
	defer c.Close()

	assert.Equal(t, map[string]int{"primary": 0}, c.Consistency().Pending())

	ep, ok := c.Endpoint("dnstap")
	require.True(t, ok)

	conn, err := net.Dial("tcp", ep.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	wire, err := clientQuery().Pack()
	require.NoError(t, err)

	kind := tap.Message_CLIENT_QUERY
	family := tap.SocketFamily_INET
	protocol := tap.SocketProtocol_TCP
	typ := tap.Dnstap_MESSAGE
	frame, err := proto.Marshal(&tap.Dnstap{
		Type: &typ,
		Message: &tap.Message{
			Type:           &kind,
			SocketFamily:   &family,
			SocketProtocol: &protocol,
			QueryAddress:   []byte{127, 0, 0, 1},
			QueryTimeSec:   proto.Uint64(1700000000),
			QueryTimeNsec:  proto.Uint32(0),
			QueryMessage:   wire,
		},
	})
	require.NoError(t, err)

	enc, err := framestream.NewEncoder(conn, &framestream.EncoderOptions{ContentType: dnstap.ContentType})
	require.NoError(t, err)
	_, err = enc.Write(frame)
	require.NoError(t, err)
	require.NoError(t, enc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), recordWait)
	defer cancel()

	rec, err := ep.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, telemetry.KindQuery, rec.Kind)
	assert.Equal(t, telemetry.TCP, *rec.SocketProtocol)
	assert.Equal(t, "a.example.", *rec.Question.Name)
}
