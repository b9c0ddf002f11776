// Package pagination aggregates multi-page results under a single call.
//
// A caller-supplied Paginator inspects each decoded page and returns the next
// State:
//
//   - End stops.
//   - Next(url) fetches one more page sequentially and asks again. This fits
//     cursor or link pagination, where the next URL is only known after the
//     current page has been decoded.
//   - Rest(urls) lists every remaining page up front (for example from a total
//     count on the first page). Those pages are fetched concurrently and the
//     run ends.
//
// Example usage:
//
//	type page struct {
//		Items   []int   `json:"items"`
//		NextURL *string `json:"nextUrl"`
//	}
//
//	pages, err := pagination.QueryPages(ctx, c, "https://api.example.com/items",
//		func(p page) pagination.State {
//			if p.NextURL == nil {
//				return pagination.End{}
//			}
//			return pagination.Next{URL: *p.NextURL}
//		}, pagination.Config{PageLimit: 10})
//
// Pages are returned in fetch-intended order: strict fetch order for Next,
// URL-list order for a Rest batch. Any failure aborts the run and cancels the
// other fetches of the batch in flight.
package pagination
