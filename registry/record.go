package registry

import (
	"fmt"
	"slices"
	"strings"
)

// ClientRule grants one host pattern access to an export. Host and Options are
// opaque to the registry beyond the grammar constraints checked in Validate.
type ClientRule struct {
	Host    string `json:"Ip" validate:"exporthost"`
	Options string `json:"Permissions" validate:"excludesall=),nonewline"`
}

// ExportRecord is one named export. Name is the primary key.
type ExportRecord struct {
	Name    string       `json:"Name" validate:"required,nonewline"`
	Path    string       `json:"Path" validate:"exportpath"`
	Clients []ClientRule `json:"Clients" validate:"min=1,dive"`
}

func NewClientRule(host, options string) (ClientRule, error) {
	if host == "" {
		return ClientRule{}, newError(ErrInvalid, nil, "client host must not be empty")
	}
	return ClientRule{Host: host, Options: options}, nil
}

func NewExportRecord(name, path string, clients []ClientRule) (ExportRecord, error) {
	if name == "" {
		return ExportRecord{}, newError(ErrInvalid, nil, "export name must not be empty")
	}
	if strings.ContainsAny(name, "\r\n") {
		return ExportRecord{}, newError(ErrInvalid, nil, "export name %q must not contain a newline", name)
	}
	for _, c := range clients {
		if c.Host == "" {
			return ExportRecord{}, newError(ErrInvalid, nil, "client host must not be empty")
		}
	}
	return ExportRecord{Name: name, Path: path, Clients: slices.Clone(clients)}, nil
}

func (c ClientRule) String() string {
	return c.Host + "(" + c.Options + ")"
}

func (r ExportRecord) String() string {
	parts := make([]string, 0, len(r.Clients))
	for _, c := range r.Clients {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("%s: %q %s", r.Name, r.Path, strings.Join(parts, " "))
}

// Equal compares field by field; client order is significant.
func (r ExportRecord) Equal(o ExportRecord) bool {
	return r.Name == o.Name && r.Path == o.Path && slices.Equal(r.Clients, o.Clients)
}

func (r ExportRecord) clientIndex(host string) int {
	return slices.IndexFunc(r.Clients, func(c ClientRule) bool { return c.Host == host })
}
