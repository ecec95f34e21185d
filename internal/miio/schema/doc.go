// Package schema loads declarative miio device schemas.
//
// A device schema describes one or more device models: which properties are
// polled, how many properties fit in one "get" request, and which channels
// the device exposes together with the command templates bound to them.
//
// # Document Format
//
// Schemas are JSON documents with a single deviceMapping root:
//
//	{
//	  "deviceMapping": {
//	    "id": ["yeelink.light.color1"],
//	    "propertyMethod": "get_prop",
//	    "maxProperties": 2,
//	    "channels": [
//	      {
//	        "property": "power",
//	        "friendlyName": "Power",
//	        "channel": "power",
//	        "type": "Switch",
//	        "refresh": true,
//	        "actions": [
//	          {"command": "set_power", "parameterType": "ONOFF", "parameter1": "\"smooth\"", "parameter2": "500"}
//	        ]
//	      }
//	    ]
//	  }
//	}
//
// Every document is checked against an embedded JSON Schema before it is
// decoded. Structural failures surface as ErrSchemaParse.
//
// # Stores
//
// A Store resolves a model name to a document Handle. FSStore serves any
// fs.FS (a directory on disk via NewDirStore, or the built-in catalogue via
// Embedded). ChainStore consults several stores in order.
//
// # Thread Safety
//
// Loader and the stores are safe for concurrent use. A *DeviceSchema returned
// by the Loader is shared and must be treated as read-only.
package schema
