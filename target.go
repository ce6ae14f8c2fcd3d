package tripload

// Target defines a table materialized from a set of monthly sources.
type Target struct {
	// Name is the target's name used in logs and notifications.
	Name string

	Category Category
	Sources  []Source

	// Notifier overrides the loader's notifier for this target.
	Notifier Notifier

	// Project specifies GCP project name of destination BigQuery table.
	Project string

	// Dataset specifies BigQuery dataset ID of destination table.
	Dataset string

	// Table specifies BigQuery table ID as destination.
	Table string

	// StagingDataset holds transient relations. Defaults to Dataset.
	StagingDataset string

	engine Engine
}

func (t *Target) id() TableID {
	return TableID{Project: t.Project, Dataset: t.Dataset, Table: t.Table}
}

func (t *Target) stagingID(name string) TableID {
	ds := t.StagingDataset
	if ds == "" {
		ds = t.Dataset
	}
	return TableID{Project: t.Project, Dataset: ds, Table: name}
}

func (t *Target) uris() []string {
	uris := make([]string, len(t.Sources))
	for i, s := range t.Sources {
		uris[i] = s.FullPath()
	}
	return uris
}
