package resource

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepo struct {
	links []Link
}

func (f *fakeRepo) Insert(_ context.Context, l Link) (Link, error) {
	l.CreatedAt = time.Now().UTC()
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeRepo) ListByCourse(_ context.Context, courseID string) ([]Link, error) {
	var res []Link
	for _, l := range f.links {
		if l.CourseID == courseID {
			res = append(res, l)
		}
	}
	return res, nil
}

func TestAdd_Validation(t *testing.T) {
	cases := []struct {
		name     string
		courseID string
		title    string
		url      string
		wantErr  error
	}{
		{"valid https", "CS101", "Week 1 slides", "https://drive.example/folder/1", nil},
		{"valid http", "CS101", "Syllabus", "http://uni.example/syllabus.pdf", nil},
		{"missing course", "", "Slides", "https://x.example/a", ErrCourseRequired},
		{"blank title", "CS101", "   ", "https://x.example/a", ErrTitleRequired},
		{"relative url", "CS101", "Slides", "/just/a/path", ErrInvalidURL},
		{"wrong scheme", "CS101", "Slides", "ftp://files.example/a", ErrInvalidURL},
		{"no host", "CS101", "Slides", "https://", ErrInvalidURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&fakeRepo{})
			_, err := svc.Add(context.Background(), tc.courseID, tc.title, tc.url, "lect-1")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAddAndList(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "CS101", "Week 1", "https://drive.example/1", "lect-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Add(ctx, "MA201", "Notes", "https://drive.example/2", "lect-2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := svc.List(ctx, "CS101")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Week 1" || got[0].AddedBy != "lect-1" {
		t.Errorf("List = %+v", got)
	}
}
