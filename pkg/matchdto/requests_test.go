package matchdto

import "testing"

func TestPagingNormalize(t *testing.T) {
	cases := []struct {
		in         Paging
		page, size int
		offset     int
	}{
		{Paging{}, 1, DefaultPageSize, 0},
		{Paging{Page: 3, PageSize: 10}, 3, 10, 20},
		{Paging{Page: -2, PageSize: 1000}, 1, MaxPageSize, 0},
		{Paging{Page: 2, PageSize: 0}, 2, DefaultPageSize, DefaultPageSize},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		if got.Page != tc.page || got.PageSize != tc.size || tc.in.Offset() != tc.offset {
			t.Fatalf("%+v -> %+v offset=%d", tc.in, got, tc.in.Offset())
		}
	}
}

func TestDomainErrorMessage(t *testing.T) {
	if (DomainError{Code: "not_found"}).Error() != "not_found" {
		t.Fatalf("code fallback")
	}
	if (DomainError{}).Error() != "match service error" {
		t.Fatalf("default message")
	}
}
