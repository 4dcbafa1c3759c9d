package grpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/txbuilder"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type fakeSubscribeStream struct {
	grpc.ClientStream
	ctx     context.Context
	updates chan *pb.SubscribeUpdate

	mu   sync.Mutex
	sent []*pb.SubscribeRequest
}

func (s *fakeSubscribeStream) Send(req *pb.SubscribeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeSubscribeStream) Recv() (*pb.SubscribeUpdate, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case u := <-s.updates:
		return u, nil
	}
}

func (s *fakeSubscribeStream) requests() []*pb.SubscribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pb.SubscribeRequest(nil), s.sent...)
}

type fakeStreamGeyser struct {
	pb.GeyserClient
	stream *fakeSubscribeStream
	token  []string
}

func (f *fakeStreamGeyser) Subscribe(ctx context.Context, _ ...grpc.CallOption) (pb.Geyser_SubscribeClient, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	f.token = md.Get("x-token")
	f.stream.ctx = ctx
	return f.stream, nil
}

type staticProvider struct {
	calls int
}

func (p *staticProvider) LatestBlockhash(context.Context) (txbuilder.Blockhash, error) {
	p.calls++
	return txbuilder.Blockhash{Hash: "fallback", LastValidBlockHeight: 1}, nil
}

func blockMeta(slot, height uint64, hash string) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{UpdateOneof: &pb.SubscribeUpdate_BlockMeta{BlockMeta: &pb.SubscribeUpdateBlockMeta{
		Slot:        slot,
		Blockhash:   hash,
		BlockHeight: &pb.BlockHeight{BlockHeight: height},
	}}}
}

func TestBlockhashStream_HandleUpdate(t *testing.T) {
	m := newBlockhashStream(nil, nil, "", pb.CommitmentLevel_CONFIRMED, config.GeyserConfig{})

	m.handleUpdate(&pb.SubscribeUpdate{UpdateOneof: &pb.SubscribeUpdate_Pong{Pong: &pb.SubscribeUpdatePong{Id: 1}}})
	assert.Nil(t, m.latest.Load())
	assert.NotZero(t, m.lastRecv.Load())

	m.handleUpdate(blockMeta(100, 90, "hash-100"))
	c := m.latest.Load()
	require.NotNil(t, c)
	assert.Equal(t, "hash-100", c.hash.Hash)
	assert.Equal(t, uint64(240), c.hash.LastValidBlockHeight)

	// 乱序到达的旧 slot 不覆盖
	m.handleUpdate(blockMeta(99, 89, "hash-99"))
	assert.Equal(t, "hash-100", m.latest.Load().hash.Hash)

	m.handleUpdate(blockMeta(101, 91, ""))
	assert.Equal(t, "hash-100", m.latest.Load().hash.Hash)
}

func TestBlockhashStream_LatestBlockhash_FreshAndStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fallback := &staticProvider{}
	m := newBlockhashStream(nil, fallback, "", pb.CommitmentLevel_CONFIRMED, config.GeyserConfig{MaxBlockhashAgeSec: 20})
	m.now = func() time.Time { return now }

	bh, err := m.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", bh.Hash)

	m.handleUpdate(blockMeta(100, 90, "hash-100"))
	bh, err = m.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash-100", bh.Hash)
	assert.Equal(t, 1, fallback.calls)

	now = now.Add(21 * time.Second)
	bh, err = m.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", bh.Hash)
	assert.Equal(t, 2, fallback.calls)
}

func TestBlockhashStream_NoFallback(t *testing.T) {
	m := newBlockhashStream(nil, nil, "", pb.CommitmentLevel_CONFIRMED, config.GeyserConfig{})
	_, err := m.LatestBlockhash(context.Background())
	assert.ErrorContains(t, err, "no fresh blockhash")
}

func TestBlockhashStream_StartStop(t *testing.T) {
	stream := &fakeSubscribeStream{updates: make(chan *pb.SubscribeUpdate, 4)}
	client := &fakeStreamGeyser{stream: stream}
	m := newBlockhashStream(client, nil, "secret", pb.CommitmentLevel_FINALIZED, config.GeyserConfig{})

	done := make(chan struct{})
	go func() {
		m.Start()
		close(done)
	}()

	stream.updates <- blockMeta(500, 480, "hash-500")
	require.Eventually(t, func() bool { return m.latest.Load() != nil }, time.Second, 10*time.Millisecond)

	bh, err := m.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash-500", bh.Hash)
	assert.Equal(t, []string{"secret"}, client.token)

	reqs := stream.requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].GetBlocksMeta(), "blocks_meta")
	assert.Equal(t, pb.CommitmentLevel_FINALIZED, reqs[0].GetCommitment())

	m.Stop()
	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
