// Package batch imports groups and users from CSV files, entry by entry.
// Each row goes through the regular service operations so every invariant
// and authorization rule applies to imported data too.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"orgdir.org/internal/container"
	"orgdir.org/internal/users"
)

// Result summarizes one import run. Errors are recorded per row; a failed
// row never aborts the run.
type Result struct {
	Done   int
	Errors map[int]error
}

func (r *Result) fail(row int, err error) {
	if r.Errors == nil {
		r.Errors = map[int]error{}
	}
	r.Errors[row] = err
}

// splitMulti splits a multi-valued CSV cell on commas.
func splitMulti(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GroupImporter creates groups from rows of
// name;type;parent;assistants;departments;owners.
type GroupImporter struct {
	Groups *container.Resource
	Scopes *container.ScopeService
}

// Run imports every row on behalf of the principal.
func (t *GroupImporter) Run(ctx context.Context, principal string, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	result := &Result{}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("batch: read row %d: %w", row, err)
		}
		if err := t.importRow(ctx, principal, record); err != nil {
			result.fail(row, err)
			continue
		}
		result.Done++
	}
}

func (t *GroupImporter) importRow(ctx context.Context, principal string, record []string) error {
	if len(record) < 2 {
		return fmt.Errorf("batch: expected at least name and type")
	}
	scope, err := t.Scopes.FindByName(ctx, strings.TrimSpace(record[1]))
	if err != nil {
		return err
	}
	edit := container.Edition{
		Name:  strings.TrimSpace(record[0]),
		Scope: scope.ID,
	}
	if len(record) > 2 {
		edit.Parent = strings.TrimSpace(record[2])
	}
	if len(record) > 3 {
		edit.Assistants = splitMulti(record[3])
	}
	if len(record) > 4 {
		edit.Departments = splitMulti(record[4])
	}
	if len(record) > 5 {
		edit.Owners = splitMulti(record[5])
	}
	_, err = t.Groups.Create(ctx, principal, edit)
	return err
}

// UserImporter creates users from rows of
// id;firstName;lastName;mail;company;department;localId;groups.
type UserImporter struct {
	Users *users.Service
}

// Run imports every row on behalf of the principal.
func (t *UserImporter) Run(ctx context.Context, principal string, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	result := &Result{}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("batch: read row %d: %w", row, err)
		}
		if len(record) < 5 {
			result.fail(row, fmt.Errorf("batch: expected at least id, names, mail and company"))
			continue
		}
		edit := users.Edition{
			ID:        strings.TrimSpace(record[0]),
			FirstName: strings.TrimSpace(record[1]),
			LastName:  strings.TrimSpace(record[2]),
			Mails:     splitMulti(record[3]),
			Company:   strings.TrimSpace(record[4]),
		}
		if len(record) > 5 {
			edit.Department = strings.TrimSpace(record[5])
		}
		if len(record) > 6 {
			edit.LocalID = strings.TrimSpace(record[6])
		}
		if len(record) > 7 {
			edit.Groups = splitMulti(record[7])
		}
		if _, err := t.Users.Create(ctx, principal, edit); err != nil {
			result.fail(row, err)
			continue
		}
		result.Done++
	}
}
