// Package domain models phase correction requests, their results and the
// gridded data exchanged with the grid server.
//
// # Grids
//
// Every grid is a regular nx*ny raster stored row-major with row 0 at the
// southern edge. Cells equal to the payload's missing value carry no data.
// DxKm and DyKm give the cell spacing and convert cell displacements into
// kilometers and, with the lead time, into speeds.
//
// # Grid Keys
//
// A grid is addressed by generation time, lead time in seconds, field name
// and kind. Kinds are:
//
//	forecast      the model output to be corrected
//	verification  the analysis or observation valid at the same time
//	weight        optional damping mask in [0,1]; motion into cells with
//	              weight below 1 is reduced. Stored under the field name
//	              "weight".
//
// # Requests
//
// A request names one (generation time, lead time) pair. The service fetches
// the forecast and verification grid of every configured field, plus the
// weight grid when asked, and publishes one result per request.
//
// # Results
//
// Results carry the motion field in grid cells, the corrected forecast of
// every field and a run summary. Status "no_correction" means the inputs
// had too little coverage: motion is zero and the forecasts pass through
// unchanged. Motion vectors point from where a feature is in the forecast to
// where it was verified. Speeds in m/s are included for positive lead times.
//
// # Fixtures
//
// A Fixture bundles the grids of one request with the displacement they
// were built with. It backs offline validation and test grid servers.
package domain
