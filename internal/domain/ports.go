package domain

import "context"

// BulletinSource lists the currently published alerts. An unreachable or
// empty source yields an empty slice, not an error; errors are reserved
// for conditions the caller might retry at the next scheduled run.
type BulletinSource interface {
	FetchAlerts(ctx context.Context) ([]RawAlert, error)
}

// GeometryFetcher retrieves the hazard polygons for one alert. The year
// comes from the alert's issue date (see AlertYear). Implementations
// return every feature including the background layer; filtering is the
// matcher's job.
type GeometryFetcher interface {
	FetchGeometry(ctx context.Context, number, year string) ([]GeometryFeature, error)
}

// Registry exposes the district set for the target region, loaded once
// per process and read-only afterwards.
type Registry interface {
	Districts() []District
	Provinces() []Province
}
