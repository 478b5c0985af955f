package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/stretchr/testify/assert"
)

func TestNewDB(t *testing.T) {
	_, err := NewDB(nil)
	assert.NotNil(t, err)
}

func Test_buildWhere(t *testing.T) {
	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		f        persistence.Filter
		want     string
		wantArgs []interface{}
	}{
		{name: "empty", f: persistence.Filter{}, want: "", wantArgs: nil},
		{name: "status", f: persistence.Filter{Status: status.Failed}, want: " WHERE status = $1",
			wantArgs: []interface{}{"failed"}},
		{name: "from", f: persistence.Filter{From: from}, want: " WHERE created >= $1", wantArgs: []interface{}{from}},
		{name: "search", f: persistence.Filter{Search: " Ab_% "},
			want: " WHERE (lower(id) LIKE $1 OR lower(seller_id) LIKE $1 OR lower(uploader_name) LIKE $1 OR status LIKE $1)",
			wantArgs: []interface{}{`%ab\_\%%`}},
		{name: "all", f: persistence.Filter{Status: status.Queued, From: from, To: from, Search: "x"},
			want: " WHERE status = $1 AND created >= $2 AND created <= $3 AND (lower(id) LIKE $4 OR " +
				"lower(seller_id) LIKE $4 OR lower(uploader_name) LIKE $4 OR status LIKE $4)",
			wantArgs: []interface{}{"queued", from, from, "%x%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := buildWhere(tt.f)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func Test_buildListQuery(t *testing.T) {
	got, args := buildListQuery(persistence.Filter{Status: status.Completed}, 20, 40)
	assert.True(t, strings.HasSuffix(got, " FROM audit_jobs WHERE status = $1 ORDER BY created DESC, id DESC LIMIT $2 OFFSET $3"), got)
	assert.Equal(t, []interface{}{"completed", 20, 40}, args)

	got, args = buildListQuery(persistence.Filter{}, 10, 0)
	assert.True(t, strings.HasSuffix(got, " FROM audit_jobs ORDER BY created DESC, id DESC LIMIT $1 OFFSET $2"), got)
	assert.Equal(t, []interface{}{10, 0}, args)
}

func Test_escapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\`, escapeLike(`a%b_c\`))
}

func Test_jobArgs(t *testing.T) {
	args, err := jobArgs(&persistence.Job{ID: "1", Status: status.Processing})
	assert.Nil(t, err)
	assert.Equal(t, 16, len(args))
	assert.Equal(t, "processing", args[3])
	assert.Nil(t, args[12])
	assert.Equal(t, len(strings.Split(jobColumns, ",")), len(args))
}
