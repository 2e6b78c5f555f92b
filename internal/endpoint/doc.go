// Package endpoint tracks LwM2M client registrations on the gateway side.
//
// Handler implements the CoAP registration interface:
//
//	POST   /rd?ep=<name>&lt=<s>&lwm2m=<v>&b=<binding>   register, 2.01 + Location-Path rd/<id>
//	POST   /rd/<id>?lt=<s>&b=<binding>                  update, 2.04
//	DELETE /rd/<id>                                     deregister, 2.02
//	POST   /dp                                          Send (SenML JSON or CBOR), 2.04
//
// Registry keeps each endpoint's resource model and emits an Event for
// every lifecycle change and every accepted Send. Lifetime expiry is
// driven by RunExpiry.
package endpoint
