package replay

import "errors"

var errNoSeries = errors.New("no candles loaded for series")
