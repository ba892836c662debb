package coinbase

// spotPriceResponse represents the response from the /v2/prices/{pair}/spot endpoint.
// Example response:
//
//	{
//	  "data": {
//	    "amount": "3456.78",
//	    "base": "ETH",
//	    "currency": "USD"
//	  }
//	}
type spotPriceResponse struct {
	Data spotPriceData `json:"data"`
}

type spotPriceData struct {
	Amount   string `json:"amount"`
	Base     string `json:"base"`
	Currency string `json:"currency"`
}

// apiErrorResponse represents an error response from the Coinbase API.
type apiErrorResponse struct {
	Errors []apiError `json:"errors"`
}

type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
