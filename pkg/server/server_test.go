package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"poolselect/internal/testcerts"
	"poolselect/pkg/auth"
	"poolselect/pkg/command"
	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
	"poolselect/pkg/types"
)

const testSetup = `
psu create unit -store h1:u1@osm
psu create unit -net 0.0.0.0/0.0.0.0
psu create ugroup store-units
psu addto ugroup store-units h1:u1@osm
psu create ugroup world
psu addto ugroup world 0.0.0.0/0
psu create pool p1
psu create pool p2
psu create link write-link store-units world
psu set link write-link -writepref=10 -readpref=5
psu add link write-link p1
psu add link write-link p2
psu set allpoolsactive on
`

const replicaID = "0000A1B2C3D4E5F60718293A4B5C6D7E8F90"

type fixture struct {
	engine *selection.Engine
	repo   *replica.Repository
	client *Client
}

func newFixture(t *testing.T, withReplicas bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	engine := selection.NewEngine(logger, nil)
	_, err := command.ExecScript(engine, strings.NewReader(testSetup))
	require.NoError(t, err)

	f := &fixture{engine: engine}
	opts := Options{Logger: logger}
	if withReplicas {
		store, err := replica.NewFileStore(t.TempDir())
		require.NoError(t, err)
		f.repo = replica.NewRepository(store, replica.Options{Logger: logger})
		t.Cleanup(func() { f.repo.Close() })
		opts.Replicas = f.repo
	}

	lis := bufconn.Listen(1 << 20)
	srv := New(engine, opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(lis)
	}()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	f.client = client
	return f
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMatch(t *testing.T) {
	f := newFixture(t, false)
	ctx := testContext(t)

	resp, err := f.client.Match(ctx, &MatchRequest{
		Operation:     "write",
		ClientAddress: "192.0.2.10",
		StoreUnit:     "h1:u1@osm",
	})
	require.NoError(t, err)
	require.Len(t, resp.Levels, 1)
	assert.Equal(t, 10, resp.Levels[0].Preference)
	assert.Equal(t, []string{"p1", "p2"}, resp.Levels[0].Pools)

	resp, err = f.client.Match(ctx, &MatchRequest{
		Operation:     "READ",
		ClientAddress: "192.0.2.10",
		StoreUnit:     "h1:u1@osm",
		Exclude:       []string{"p1"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Levels, 1)
	assert.Equal(t, 5, resp.Levels[0].Preference)
	assert.Equal(t, []string{"p2"}, resp.Levels[0].Pools)

	resp, err = f.client.Match(ctx, &MatchRequest{Operation: "cache", StoreUnit: "other:class@hsm"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Levels)
	assert.Empty(t, resp.Levels)
}

func TestMatchResponseWireFormat(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.client.Match(testContext(t), &MatchRequest{
		Operation:     "write",
		ClientAddress: "192.0.2.10",
		StoreUnit:     "h1:u1@osm",
	})
	require.NoError(t, err)

	data, err := jsonCodec{}.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"levels":[{"preference":10,"pools":["p1","p2"]}]}`, string(data))
}

func TestMatchInvalidArgument(t *testing.T) {
	f := newFixture(t, false)
	ctx := testContext(t)

	for _, req := range []*MatchRequest{
		{Operation: "teleport"},
		{Operation: "read", RetentionPolicy: "forever"},
		{Operation: "read", AccessLatency: "instant"},
		{Operation: "read", ClientAddress: "not-an-ip"},
		{Operation: "read", LinkGroup: "missing"},
	} {
		_, err := f.client.Match(ctx, req)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), "%+v", req)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t, false)
	ctx := metadata.AppendToOutgoingContext(testContext(t), RequestIDHeader, "req-42")

	var header metadata.MD
	_, err := f.client.Match(ctx, &MatchRequest{Operation: "read"}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42"}, header.Get(RequestIDHeader))

	_, err = f.client.Match(testContext(t), &MatchRequest{Operation: "read"}, grpc.Header(&header))
	require.NoError(t, err)
	require.Len(t, header.Get(RequestIDHeader), 1)
	assert.NotEqual(t, "req-42", header.Get(RequestIDHeader)[0])
}

func TestCommand(t *testing.T) {
	f := newFixture(t, false)
	ctx := testContext(t)
	gen := f.engine.Generation()

	resp, err := f.client.Command(ctx, []string{
		"psu create pool p3",
		"# comments are skipped",
		"psu add link write-link p3",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Applied)
	assert.Greater(t, resp.Generation, gen)

	link, ok := f.engine.Snapshot().Link("write-link")
	require.True(t, ok)
	assert.Contains(t, link.Pools(), "p3")
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t, false)
	ctx := testContext(t)
	gen := f.engine.Generation()

	tests := []struct {
		name  string
		lines []string
		code  codes.Code
	}{
		{"empty", nil, codes.InvalidArgument},
		{"syntax", []string{"psu create pool"}, codes.InvalidArgument},
		{"embedded newline", []string{"psu create pool a\npsu create pool b"}, codes.InvalidArgument},
		{"missing", []string{"psu create pool p4", "psu add link nowhere p4"}, codes.NotFound},
		{"duplicate", []string{"psu create pool p1"}, codes.AlreadyExists},
		{"in use", []string{"psu remove ugroup world"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.Command(ctx, tt.lines)
			assert.Equal(t, tt.code, status.Code(err), "%v", err)
		})
	}

	assert.Equal(t, gen, f.engine.Generation(), "failed batches leave the graph untouched")
	_, ok := f.engine.Snapshot().Pool("p4")
	assert.False(t, ok)
}

func TestDumpSetup(t *testing.T) {
	f := newFixture(t, false)
	resp, err := f.client.DumpSetup(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, f.engine.DumpSetup(), resp.Setup)
	assert.Equal(t, f.engine.Generation(), resp.Generation)
}

func TestReplicaState(t *testing.T) {
	f := newFixture(t, true)
	ctx := testContext(t)

	id, err := types.ParsePnfsID(replicaID)
	require.NoError(t, err)
	entry, err := f.repo.Create(id)
	require.NoError(t, err)
	require.NoError(t, entry.SetFromClient())
	require.NoError(t, entry.SetPrecious(false))
	require.NoError(t, entry.SetSticky("alice", replica.NeverExpires))

	resp, err := f.client.ReplicaState(ctx, strings.ToLower(replicaID))
	require.NoError(t, err)
	assert.Equal(t, id, resp.Replica.ID)
	assert.Contains(t, resp.Replica.Flags, "precious")
	assert.Contains(t, resp.Replica.Flags, "sticky")
	assert.Equal(t, []replica.StickyRecord{{Owner: "alice", Expire: replica.NeverExpires}}, resp.Replica.Sticky)

	_, err = f.client.ReplicaState(ctx, "0000FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.client.ReplicaState(ctx, "xyz")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReplicaStateWithoutRepository(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.client.ReplicaState(testContext(t), replicaID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestMutualTLS(t *testing.T) {
	files := testcerts.Generate(t, "admin")
	logger := zaptest.NewLogger(t)

	engine := selection.NewEngine(logger, nil)
	_, err := command.ExecScript(engine, strings.NewReader(testSetup))
	require.NoError(t, err)

	creds, err := auth.ServerCredentials(auth.TLSOptions{
		CertFile:          files.ServerCertFile,
		KeyFile:           files.ServerKeyFile,
		CAFile:            files.CAFile,
		RequireClientCert: true,
	})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(engine, Options{Logger: logger, ServerOptions: []grpc.ServerOption{grpc.Creds(creds)}})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(lis)
	}()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})

	dial := func(opts auth.TLSOptions) *Client {
		creds, err := auth.ClientCredentials(opts)
		require.NoError(t, err)
		client, err := Dial(lis.Addr().String(), grpc.WithTransportCredentials(creds))
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		return client
	}

	client := dial(auth.TLSOptions{
		CAFile:   files.CAFile,
		CertFile: files.ClientCertFile,
		KeyFile:  files.ClientKeyFile,
	})
	req := &MatchRequest{Operation: "write", ClientAddress: "127.0.0.1", StoreUnit: "h1:u1@osm"}
	resp, err := client.Match(testContext(t), req)
	require.NoError(t, err)
	require.Len(t, resp.Levels, 1)
	assert.Equal(t, []string{"p1", "p2"}, resp.Levels[0].Pools)

	anonymous := dial(auth.TLSOptions{CAFile: files.CAFile})
	_, err = anonymous.Match(testContext(t), req)
	assert.Error(t, err, "client certificate is required")
}
