package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageWindow(t *testing.T) {
	cases := []struct {
		total, limit, offset int
		currentPage          int
		lastPage             bool
		totalPages           int
	}{
		{total: 25, limit: 10, offset: 0, currentPage: 3, lastPage: false, totalPages: 3},
		{total: 25, limit: 10, offset: 10, currentPage: 2, lastPage: false, totalPages: 3},
		{total: 25, limit: 10, offset: 20, currentPage: 1, lastPage: true, totalPages: 3},
		{total: 25, limit: 10, offset: 30, currentPage: 1, lastPage: true, totalPages: 3},
		{total: 20, limit: 10, offset: 0, currentPage: 2, lastPage: false, totalPages: 2},
		{total: 20, limit: 10, offset: 10, currentPage: 1, lastPage: true, totalPages: 2},
		{total: 1, limit: 10, offset: 0, currentPage: 1, lastPage: true, totalPages: 1},
		{total: 0, limit: 10, offset: 0, currentPage: 0, lastPage: false, totalPages: 0},
		{total: 100, limit: 7, offset: 0, currentPage: 15, lastPage: false, totalPages: 15},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("total=%d limit=%d offset=%d", tc.total, tc.limit, tc.offset)
		t.Run(name, func(t *testing.T) {
			current, last, pages := pageWindow(tc.total, tc.limit, tc.offset)
			assert.Equal(t, tc.currentPage, current, "currentPage")
			assert.Equal(t, tc.lastPage, last, "lastPage")
			assert.Equal(t, tc.totalPages, pages, "totalPages")
		})
	}
}
