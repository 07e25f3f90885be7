package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/kafka"
)

type fakeIndexer struct {
	docs map[uint64][]string
	err  error
}

func (f *fakeIndexer) IndexDocument(docID uint64, terms []string) error {
	if f.err != nil {
		return f.err
	}
	if len(terms) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "no terms")
	}
	if f.docs == nil {
		f.docs = make(map[uint64][]string)
	}
	f.docs[docID] = terms
	return nil
}

func TestHandleMessage(t *testing.T) {
	ix := &fakeIndexer{}
	handle := HandleMessage(ix)
	ctx := context.Background()
	msg := func(value string) kafka.Message {
		return kafka.Message{Topic: "term-ingest", Value: []byte(value)}
	}

	require.NoError(t, handle(ctx, msg(`{"doc_id":7,"terms":["cat","dog","cat"]}`)))
	assert.Equal(t, []string{"cat", "dog", "cat"}, ix.docs[7])

	err := handle(ctx, msg("not json"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "malformed events are dropped")
	err = handle(ctx, msg(`{"doc_id":8}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "events without terms are dropped")
	assert.NotContains(t, ix.docs, uint64(8))

	ix.err = errors.New("disk full")
	err = handle(ctx, msg(`{"doc_id":9,"terms":["x"]}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrInvalidInput, "engine failures are retried")
}
