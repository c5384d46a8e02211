package errors

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Other},
		{"plain", sql.ErrNoRows, Other},
		{"direct", E(NotFound, "enrollment not found"), NotFound},
		{"wrapped kindless", E("outer", E(InvalidTransition, "inner")), InvalidTransition},
		{"outer wins", E(DependencyUnavailable, "outer", E(NotFound, "inner")), DependencyUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorString(t *testing.T) {
	err := E(NotFound, "course not found", sql.ErrNoRows)
	assert.Equal(t, "entity not found: course not found: sql: no rows in result set", err.Error())
	assert.True(t, Is(err, sql.ErrNoRows))
	assert.Equal(t, "course not found", Message(err))
}
