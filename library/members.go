package library

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

const tableMembers = "members"

var memberColumns = []any{"id", "first_name", "last_name", "email", "phone"}

// MemberStore owns member records.
type MemberStore struct {
	db *Database
}

// NewMemberStore returns a member registry backed by db.
func NewMemberStore(db *Database) *MemberStore { return &MemberStore{db: db} }

type memberOptions struct {
	email string
	phone string
}

// MemberOption sets an optional contact field on AddMember.
type MemberOption func(*memberOptions)

// WithEmail records an email address. It is not validated.
func WithEmail(email string) MemberOption {
	return func(o *memberOptions) { o.email = strings.TrimSpace(email) }
}

// WithPhone records a phone number. It is not validated.
func WithPhone(phone string) MemberOption {
	return func(o *memberOptions) { o.phone = strings.TrimSpace(phone) }
}

// AddMember validates and inserts a member.
func (s *MemberStore) AddMember(ctx context.Context, firstName, lastName string, opts ...MemberOption) (int64, error) {
	var o memberOptions
	for _, opt := range opts {
		opt(&o)
	}
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if firstName == "" {
		return 0, validationErr("first name is required")
	}
	if lastName == "" {
		return 0, validationErr("last name is required")
	}

	db := s.db
	id, err := insertID(ctx, db.db, db.db.Rebind(
		`INSERT INTO members(first_name,last_name,email,phone) VALUES(?,?,?,?)`),
		firstName, lastName, nullable(o.email), nullable(o.phone))
	if err != nil {
		return 0, storageErr("add member", err)
	}
	db.logger.Info(logMsgMemberAdded, logAttrMemberID, id)
	return id, nil
}

// GetMember fetches a single member.
func (s *MemberStore) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	ds := s.db.builder.From(tableMembers).Select(memberColumns...).Where(goqu.C("id").Eq(id))
	if err := s.db.getOne(ctx, "get member", ds, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetAllMembers returns all members in insertion order.
func (s *MemberStore) GetAllMembers(ctx context.Context) ([]*Member, error) {
	return s.SearchMembers(ctx, "")
}

// SearchMembers matches q against first name, last name, email and phone,
// ignoring case. An empty q matches every member.
func (s *MemberStore) SearchMembers(ctx context.Context, q string) ([]*Member, error) {
	ds := s.db.builder.From(tableMembers).Select(memberColumns...).Order(goqu.C("id").Asc())
	if q != "" {
		ds = ds.Where(s.db.dialect.containsAny(q, "first_name", "last_name", "email", "phone"))
	}
	members := []*Member{}
	if err := s.db.selectAll(ctx, "search members", ds, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// DeleteMember removes a member inside tx and, by cascade, all of their
// loans. It does not touch inventory; LoanLedger.RemoveMember restocks open
// loans first.
func (s *MemberStore) DeleteMember(ctx context.Context, tx *sqlx.Tx, id int64) error {
	return deleteByID(ctx, tx, s.db.builder, "delete member", tableMembers, id)
}
