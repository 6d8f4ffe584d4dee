package services

import (
	"context"
	"testing"

	"twilioreport/internal/core"
	"twilioreport/internal/store/memory"
)

func validAccount(user string) core.AccountInput {
	return core.AccountInput{
		UserID:    user,
		Name:      "Main Line",
		SID:       "AC0123456789abcdef",
		AuthToken: "tok123",
	}
}

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name    string
		in      core.AccountInput
		wantMsg string
		wantErr bool
	}{
		{name: "valid", in: validAccount("u1")},
		{name: "empty", in: core.AccountInput{}, wantMsg: MsgAccountInfoRequired, wantErr: true},
		{name: "short name", in: func() core.AccountInput { a := validAccount("u1"); a.Name = "ab"; return a }(), wantErr: true},
		{name: "punctuation in name", in: func() core.AccountInput { a := validAccount("u1"); a.Name = "Main-Line"; return a }(), wantErr: true},
		{name: "missing token", in: func() core.AccountInput { a := validAccount("u1"); a.AuthToken = ""; return a }(), wantErr: true},
		{name: "missing user", in: func() core.AccountInput { a := validAccount(""); return a }(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAccountService(memory.New(), nil)
			a, err := s.Create(context.Background(), tt.in)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				if a.ID == "" {
					t.Error("Create() returned empty ID")
				}
				return
			}
			if KindOf(err) != KindInvalid {
				t.Fatalf("Create() kind = %v, want KindInvalid (err %v)", KindOf(err), err)
			}
			if tt.wantMsg != "" && MessageOf(err, "") != tt.wantMsg {
				t.Errorf("message = %q, want %q", MessageOf(err, ""), tt.wantMsg)
			}
		})
	}
}

func TestCreateAccountDuplicateName(t *testing.T) {
	s := NewAccountService(memory.New(), nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, validAccount("u1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, validAccount("u1")); MessageOf(err, "") != MsgAccountExists {
		t.Fatalf("duplicate err = %v, want %q", err, MsgAccountExists)
	}
	if _, err := s.Create(ctx, validAccount("u2")); err != nil {
		t.Fatalf("same name for another user: %v", err)
	}
}

func TestOwnership(t *testing.T) {
	s := NewAccountService(memory.New(), nil)
	ctx := context.Background()

	a, err := s.Create(ctx, validAccount("u1"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetOwned(ctx, "u2", a.ID); KindOf(err) != KindNotFound {
		t.Errorf("GetOwned by stranger kind = %v, want KindNotFound", KindOf(err))
	}
	if err := s.DeleteOwned(ctx, "u2", a.ID); KindOf(err) != KindNotFound {
		t.Errorf("DeleteOwned by stranger kind = %v, want KindNotFound", KindOf(err))
	}

	list, err := s.ListByUser(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByUser = %v, %v; want one account", list, err)
	}

	if err := s.DeleteOwned(ctx, "u1", a.ID); err != nil {
		t.Fatalf("DeleteOwned() error = %v", err)
	}
	if err := s.Delete(ctx, a.ID); KindOf(err) != KindNotFound {
		t.Errorf("second Delete kind = %v, want KindNotFound", KindOf(err))
	}
}
