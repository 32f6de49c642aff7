package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseScope_Allows(t *testing.T) {
	assert.True(t, courseScope{"*"}.allows("c9"))
	assert.True(t, courseScope{"c1", "c2"}.allows("c2"))
	assert.False(t, courseScope{"c1"}.allows("c2"))
	assert.False(t, courseScope(nil).allows("c1"))
}

func TestNormalizeCourses(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{name: "empty grants all", in: nil, want: []string{"*"}},
		{name: "wildcard wins", in: []string{"c1", "*"}, want: []string{"*"}},
		{name: "trim and dedupe", in: []string{" c1 ", "c2", "c1"}, want: []string{"c1", "c2"}},
		{name: "blank entry", in: []string{"c1", " "}, wantErr: true},
		{name: "path separator", in: []string{"c1/x"}, wantErr: true},
		{name: "inner space", in: []string{"my course"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCourses(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireCourse(t *testing.T) {
	h := requireCourse(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	serve := func(course string, scope courseScope) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses/"+course+"/modules", nil)
		r.SetPathValue("course", course)
		r = r.WithContext(context.WithValue(r.Context(), contextKeyCourses, scope))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusTeapot, serve("c1", courseScope{"c1"}))
	assert.Equal(t, http.StatusForbidden, serve("c2", courseScope{"c1"}))
	assert.Equal(t, http.StatusBadRequest, serve("", courseScope{"*"}))
}
