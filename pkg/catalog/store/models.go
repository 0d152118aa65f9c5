package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
)

// AssetTypeRecord groups schemas by category.
type AssetTypeRecord struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name        string    `gorm:"column:name;type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (AssetTypeRecord) TableName() string { return "asset_types" }

// SchemaRecord is a named, versioned set of fields.
type SchemaRecord struct {
	ID                    string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name                  string    `gorm:"column:name;type:varchar(255);not null;uniqueIndex:idx_schema_asset_name,priority:2" json:"name"`
	Version               int       `gorm:"column:version;not null" json:"version"`
	AssetTypeID           string    `gorm:"column:asset_type_id;type:varchar(36);not null;uniqueIndex:idx_schema_asset_name,priority:1" json:"assetTypeId"`
	ParentSchemaID        *string   `gorm:"column:parent_schema_id;type:varchar(36);index" json:"parentSchemaId,omitempty"`
	AllowAdditionalFields bool      `gorm:"column:allow_additional_fields;not null" json:"allowAdditionalFields"`
	IsActive              bool      `gorm:"column:is_active;not null" json:"isActive"`
	CreatedBy             string    `gorm:"column:created_by;type:varchar(255)" json:"createdBy,omitempty"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (SchemaRecord) TableName() string { return "schemas" }

// FieldState is the lifecycle state of a field row. A purged field has no
// row at all.
type FieldState string

const (
	FieldActive      FieldState = "active"
	FieldSoftDeleted FieldState = "soft_deleted"
)

// FieldRecord is one field of a schema. Field names are unique among the
// active fields of a schema; soft-deleted rows may share a name with an
// active one.
type FieldRecord struct {
	ID           string                `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SchemaID     string                `gorm:"column:schema_id;type:varchar(36);not null;index:idx_field_schema_name,priority:1" json:"schemaId"`
	FieldName    string                `gorm:"column:field_name;type:varchar(255);not null;index:idx_field_schema_name,priority:2" json:"fieldName"`
	FieldType    fieldtype.Type        `gorm:"column:field_type;type:varchar(16);not null" json:"fieldType"`
	IsRequired   bool                  `gorm:"column:is_required;not null" json:"isRequired"`
	DefaultValue *string               `gorm:"column:default_value;type:text" json:"defaultValue,omitempty"`
	Constraints  fieldtype.Constraints `gorm:"column:constraints;type:text" json:"constraints"`
	Description  string                `gorm:"column:description;type:text" json:"description,omitempty"`
	OrderIndex   int                   `gorm:"column:order_index;not null" json:"orderIndex"`
	State        FieldState            `gorm:"column:state;type:varchar(16);not null;index" json:"state"`
	RemovedAt    *time.Time            `gorm:"column:removed_at" json:"removedAt,omitempty"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (FieldRecord) TableName() string { return "schema_fields" }

// IsDeleted reports whether the field is soft-deleted.
func (f *FieldRecord) IsDeleted() bool { return f.State == FieldSoftDeleted }

// Definition returns the caller-facing shape of the field.
func (f *FieldRecord) Definition() fieldtype.Definition {
	return fieldtype.Definition{
		Name:        f.FieldName,
		Type:        f.FieldType,
		Required:    f.IsRequired,
		Default:     f.DefaultValue,
		Constraints: f.Constraints,
		Description: f.Description,
	}
}

// MetadataRecord is one entity described by a schema. SchemaID never changes
// after creation.
type MetadataRecord struct {
	ID          string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SchemaID    string            `gorm:"column:schema_id;type:varchar(36);not null;index" json:"schemaId"`
	AssetTypeID *string           `gorm:"column:asset_type_id;type:varchar(36);index" json:"assetTypeId,omitempty"`
	Name        string            `gorm:"column:name;type:varchar(255)" json:"name"`
	Tag         string            `gorm:"column:tag;type:varchar(255)" json:"tag,omitempty"`
	Extra       datatypes.JSONMap `gorm:"column:extra" json:"extra,omitempty"`
	CreatedBy   string            `gorm:"column:created_by;type:varchar(255)" json:"createdBy,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (MetadataRecord) TableName() string { return "metadata_records" }

// FieldValueRecord stores one record's value for one field. Exactly one
// value slot is populated, chosen by ValueType, which is the field's type at
// the time of the write.
type FieldValueRecord struct {
	ID         string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	RecordID   string         `gorm:"column:record_id;type:varchar(36);not null;uniqueIndex:idx_value_record_field,priority:1"`
	FieldID    string         `gorm:"column:field_id;type:varchar(36);not null;uniqueIndex:idx_value_record_field,priority:2;index"`
	ValueType  fieldtype.Type `gorm:"column:value_type;type:varchar(16);not null"`
	ValueText  *string        `gorm:"column:value_text;type:text"`
	ValueInt   *int64         `gorm:"column:value_int"`
	ValueFloat *float64       `gorm:"column:value_float"`
	ValueBool  *bool          `gorm:"column:value_bool"`
	ValueDate  *time.Time     `gorm:"column:value_date"`
	ValueJSON  datatypes.JSON `gorm:"column:value_json"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (FieldValueRecord) TableName() string { return "field_values" }

// VersionSnapshotRecord is the immutable field layout of a schema at one
// version.
type VersionSnapshotRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SchemaID      string    `gorm:"column:schema_id;type:varchar(36);not null;uniqueIndex:idx_snapshot_schema_version,priority:1" json:"schemaId"`
	VersionNumber int       `gorm:"column:version_number;not null;uniqueIndex:idx_snapshot_schema_version,priority:2" json:"versionNumber"`
	FieldLayout   Layout    `gorm:"column:field_layout;type:text;not null" json:"fieldLayout"`
	ChangeSummary string    `gorm:"column:change_summary;type:text" json:"changeSummary"`
	CreatedBy     string    `gorm:"column:created_by;type:varchar(255)" json:"createdBy,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (VersionSnapshotRecord) TableName() string { return "schema_versions" }

// ChangeType names the kind of mutation a change log entry records.
type ChangeType string

const (
	ChangeCreated       ChangeType = "created"
	ChangeFieldAdded    ChangeType = "field_added"
	ChangeFieldRemoved  ChangeType = "field_removed"
	ChangeFieldModified ChangeType = "field_modified"
	ChangeForked        ChangeType = "forked"
	ChangeRollback      ChangeType = "rollback"
)

// ChangeLogRecord is one append-only audit entry per schema mutation.
type ChangeLogRecord struct {
	ID             string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	SchemaID       string            `gorm:"column:schema_id;type:varchar(36);not null;index:idx_changelog_schema_version,priority:1" json:"schemaId"`
	Version        int               `gorm:"column:version;not null;index:idx_changelog_schema_version,priority:2" json:"version"`
	ChangeType     ChangeType        `gorm:"column:change_type;type:varchar(32);not null" json:"changeType"`
	Description    string            `gorm:"column:description;type:text" json:"description"`
	Details        datatypes.JSONMap `gorm:"column:structured_details" json:"details,omitempty"`
	SchemaSnapshot Layout            `gorm:"column:schema_snapshot;type:text" json:"schemaSnapshot"`
	ChangedBy      string            `gorm:"column:changed_by;type:varchar(255)" json:"changedBy,omitempty"`
	Timestamp      time.Time         `gorm:"column:timestamp;autoCreateTime" json:"timestamp"`
}

func (ChangeLogRecord) TableName() string { return "change_logs" }

// allModels lists every table in migration order.
var allModels = []any{
	&AssetTypeRecord{},
	&SchemaRecord{},
	&FieldRecord{},
	&MetadataRecord{},
	&FieldValueRecord{},
	&VersionSnapshotRecord{},
	&ChangeLogRecord{},
}
