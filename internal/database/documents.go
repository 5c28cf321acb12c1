package database

import "strings"

// Document stores one JSON document under its key.
type Document struct {
	Key              string `gorm:"column:doc_key;primaryKey;size:512;not null"`
	Namespace        string `gorm:"column:namespace;size:64;not null;default:'';index:idx_documents_namespace"`
	Body             string `gorm:"column:body;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// SetMember stores one member of a named string set.
type SetMember struct {
	SetKey string `gorm:"column:set_key;primaryKey;size:512;not null"`
	Member string `gorm:"column:member;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SetMember) TableName() string {
	return "set_members"
}

// NamespaceOf returns the part of key before the first colon, or "" when there is none.
func NamespaceOf(key string) string {
	namespace, _, found := strings.Cut(key, ":")
	if !found {
		return ""
	}
	return namespace
}
