// Package domain models SENAMHI meteorological alerts and their spatial
// match against the districts of one Peruvian region.
//
// # Data Source
//
// Alerts originate from SENAMHI's public bulletin page
// (https://www.senamhi.gob.pe/?&p=aviso-meteorologico), which publishes a
// table of current "avisos meteorológicos". Each row carries a title, an
// alert number, issue/start/end dates, a duration, and a severity level.
// The hazard area of each alert is served separately by the IDESEP
// GeoServer as a zipped shapefile, keyed by alert number and year.
//
// # Bulletin Conventions
//
// Alert number:
//
//	Published with decoration ("Aviso N° 123"); normalized to digits only
//	("123") by [NormalizeNumber]. The digits-only form keys the geometry
//	service, the history store, and rendered map filenames.
//
// Dates:
//
//	The table uses ISO order ("2025-08-21 10:00"); older bulletins use
//	day-first forms ("21/08/2025"). [ParseDate] tries both families and
//	[ParseAlert] normalizes start/end to midnight. The validity window
//	is calendar-dated, so an alert ending "today" is active through the
//	whole day (inclusive boundary in [FilterActive] and [Status]).
//
// Year key:
//
//	The geometry service is queried as {number}_1_{year}, where year is
//	the leading 4 digits of the raw issue-date string. The raw string is
//	kept on [Alert] because year extraction must survive issue dates
//	that do not parse as dates at all; see [AlertYear].
//
// Severity levels:
//
//	The bulletin level is a color word: ROJO, NARANJA, AMARILLO, VERDE.
//	The shapefile features carry a different vocabulary in their NIVEL
//	attribute: "Nivel 1" through "Nivel 4", where "Nivel 1" is a
//	nationwide reference outline bundled with every download. It is not
//	a hazard area and [FilterFeatures] drops it before intersection
//	(exact, case-sensitive match on [BackgroundLevel]).
//
// # Ubigeo Codes
//
// Districts are identified by INEI ubigeo codes: 6 digits, structured as
// 2-digit region + 2-digit province + 2-digit district. Moquegua is
// region "18"; its ~21 districts span provinces 1801 (Mariscal Nieto),
// 1802 (General Sánchez Cerro) and 1803 (Ilo). A district's owning
// province is the province record whose 4-digit code prefixes the
// district's ubigeo; registry loading tolerates a missing match by
// leaving the province name empty.
//
// # Matching
//
// [MatchDistricts] applies a permissive intersects predicate: overlap,
// shared boundary, or a single touching point all make a district
// "affected". Districts touching nothing are simply absent from the
// output. Rows are exact-duplicate-deduplicated across the whole run by
// [Dedupe], which keeps first occurrences in insertion order so repeated
// runs over the same input produce identical tables.
package domain
