package opslog

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestStartEndRecordsOutcome(t *testing.T) {
	tr := New()
	ctx, id := tr.Start(context.Background(), "provision", log.Fields{"vm": "vm1"})
	assert.NotEmpty(t, id)

	cur, ok := CurrentID(ctx)
	assert.True(t, ok)
	assert.Equal(t, id, cur)

	tr.End(id, nil)
	rec, ok := tr.Get(id)
	assert.True(t, ok)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.NoError(t, rec.Err)
}

func TestEndWithErrorMarksFailed(t *testing.T) {
	tr := New()
	_, id := tr.Start(context.Background(), "destroy", nil)
	tr.End(id, errors.New("boom"))

	rec, ok := tr.Get(id)
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Error(t, rec.Err)
}

func TestNestedOperationsTrackParent(t *testing.T) {
	tr := New()
	ctx, parentID := tr.Start(context.Background(), "fleet-run", nil)
	_, childID := tr.Start(ctx, "per-vm-task", log.Fields{"vm": "vm2"})

	child, ok := tr.Get(childID)
	assert.True(t, ok)
	assert.Equal(t, parentID, child.ParentID)
}
