package jsonrpc

import (
	"net/http"

	"github.com/corestack-dev/corestack/internal/app/engine/table"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type keySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

type streamSpecification struct {
	StreamEnabled  bool   `json:"StreamEnabled"`
	StreamViewType string `json:"StreamViewType"`
}

func keySchemaFrom(elems []keySchemaElement) table.KeySchema {
	var schema table.KeySchema
	for _, e := range elems {
		switch e.KeyType {
		case "HASH":
			schema.PartitionKey = e.AttributeName
		case "RANGE":
			schema.SortKey = e.AttributeName
		}
	}
	return schema
}

func streamConfigFrom(spec *streamSpecification) *table.StreamConfig {
	if spec == nil || !spec.StreamEnabled {
		return nil
	}
	view := table.ViewNewAndOld
	switch spec.StreamViewType {
	case "KEYS_ONLY":
		view = table.ViewKeysOnly
	case "NEW_IMAGE":
		view = table.ViewNewImage
	case "OLD_IMAGE":
		view = table.ViewOldImage
	}
	return &table.StreamConfig{View: view}
}

type createTableRequest struct {
	TableName            string               `json:"TableName"`
	KeySchema            []keySchemaElement   `json:"KeySchema"`
	StreamSpecification  *streamSpecification `json:"StreamSpecification,omitempty"`
}

type tableNameRequest struct {
	TableName string `json:"TableName"`
}

type putItemRequest struct {
	TableName string      `json:"TableName"`
	Item      table.Item  `json:"Item"`
}

type keyRequest struct {
	TableName string     `json:"TableName"`
	Key       table.Item `json:"Key"`
}

type updateItemRequest struct {
	TableName                 string                           `json:"TableName"`
	Key                       table.Item                       `json:"Key"`
	UpdateExpression          string                           `json:"UpdateExpression"`
	ConditionExpression       string                           `json:"ConditionExpression,omitempty"`
	ExpressionAttributeNames  map[string]string                `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]table.AttributeValue  `json:"ExpressionAttributeValues,omitempty"`
}

type queryRequest struct {
	TableName                 string                          `json:"TableName"`
	KeyConditionExpression    string                          `json:"KeyConditionExpression"`
	FilterExpression          string                          `json:"FilterExpression,omitempty"`
	ExpressionAttributeNames  map[string]string               `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]table.AttributeValue `json:"ExpressionAttributeValues,omitempty"`
	Limit                     int                             `json:"Limit,omitempty"`
}

type scanRequest struct {
	TableName                 string                          `json:"TableName"`
	FilterExpression          string                          `json:"FilterExpression,omitempty"`
	ExpressionAttributeNames  map[string]string               `json:"ExpressionAttributeNames,omitempty"`
	ExpressionAttributeValues map[string]table.AttributeValue `json:"ExpressionAttributeValues,omitempty"`
	Limit                     int                             `json:"Limit,omitempty"`
}

type keysAndAttributes struct {
	Keys []table.Item `json:"Keys"`
}

type batchGetRequest struct {
	RequestItems map[string]keysAndAttributes `json:"RequestItems"`
}

type writeRequest struct {
	PutRequest    *struct{ Item table.Item } `json:"PutRequest,omitempty"`
	DeleteRequest *struct{ Key table.Item }  `json:"DeleteRequest,omitempty"`
}

type batchWriteRequest struct {
	RequestItems map[string][]writeRequest `json:"RequestItems"`
}

type transactWriteItem struct {
	Put *struct {
		TableName           string                          `json:"TableName"`
		Item                table.Item                      `json:"Item"`
		ConditionExpression string                          `json:"ConditionExpression,omitempty"`
	} `json:"Put,omitempty"`
	Update *struct {
		TableName                 string                          `json:"TableName"`
		Key                       table.Item                      `json:"Key"`
		UpdateExpression          string                          `json:"UpdateExpression"`
		ConditionExpression       string                          `json:"ConditionExpression,omitempty"`
		ExpressionAttributeNames  map[string]string               `json:"ExpressionAttributeNames,omitempty"`
		ExpressionAttributeValues map[string]table.AttributeValue `json:"ExpressionAttributeValues,omitempty"`
	} `json:"Update,omitempty"`
	Delete *struct {
		TableName           string     `json:"TableName"`
		Key                 table.Item `json:"Key"`
		ConditionExpression string     `json:"ConditionExpression,omitempty"`
	} `json:"Delete,omitempty"`
	ConditionCheck *struct {
		TableName           string     `json:"TableName"`
		Key                 table.Item `json:"Key"`
		ConditionExpression string     `json:"ConditionExpression"`
	} `json:"ConditionCheck,omitempty"`
}

type transactWriteRequest struct {
	TransactItems []transactWriteItem `json:"TransactItems"`
}

func transactOpsFrom(items []transactWriteItem) []table.TransactWriteOp {
	ops := make([]table.TransactWriteOp, 0, len(items))
	for _, it := range items {
		switch {
		case it.Put != nil:
			ops = append(ops, table.TransactWriteOp{
				Kind: table.TransactPut, Table: it.Put.TableName, Item: it.Put.Item,
				ConditionExpr: it.Put.ConditionExpression,
			})
		case it.Update != nil:
			ops = append(ops, table.TransactWriteOp{
				Kind: table.TransactUpdate, Table: it.Update.TableName, Key: it.Update.Key,
				UpdateExpr: it.Update.UpdateExpression, ConditionExpr: it.Update.ConditionExpression,
				Names: it.Update.ExpressionAttributeNames, Values: it.Update.ExpressionAttributeValues,
			})
		case it.Delete != nil:
			ops = append(ops, table.TransactWriteOp{
				Kind: table.TransactDelete, Table: it.Delete.TableName, Key: it.Delete.Key,
				ConditionExpr: it.Delete.ConditionExpression,
			})
		case it.ConditionCheck != nil:
			ops = append(ops, table.TransactWriteOp{
				Kind: table.TransactConditionCheck, Table: it.ConditionCheck.TableName,
				Key: it.ConditionCheck.Key, ConditionExpr: it.ConditionCheck.ConditionExpression,
			})
		}
	}
	return ops
}

type transactGetItem struct {
	Get struct {
		TableName string     `json:"TableName"`
		Key       table.Item `json:"Key"`
	} `json:"Get"`
}

type transactGetRequest struct {
	TransactItems []transactGetItem `json:"TransactItems"`
}

// MountTable wires every DynamoDB-dialect operation onto the handler.
func MountTable(engine *table.Engine) http.Handler {
	r := NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		switch TargetOperation(req) {
		case "CreateTable":
			var body createTableRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.CreateTable(body.TableName, keySchemaFrom(body.KeySchema), streamConfigFrom(body.StreamSpecification)); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"TableDescription": map[string]string{"TableName": body.TableName, "TableStatus": "ACTIVE"}})

		case "DeleteTable":
			var body tableNameRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.DeleteTable(body.TableName); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"TableDescription": map[string]string{"TableName": body.TableName, "TableStatus": "DELETING"}})

		case "ListTables":
			WriteJSON(w, http.StatusOK, map[string]interface{}{"TableNames": engine.Names()})

		case "PutItem":
			var body putItemRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			prior, err := engine.Put(body.TableName, body.Item)
			if err != nil {
				WriteError(w, err)
				return
			}
			resp := map[string]interface{}{}
			if prior != nil {
				resp["Attributes"] = prior
			}
			WriteJSON(w, http.StatusOK, resp)

		case "GetItem":
			var body keyRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			item, found, err := engine.Get(body.TableName, body.Key)
			if err != nil {
				WriteError(w, err)
				return
			}
			resp := map[string]interface{}{}
			if found {
				resp["Item"] = item
			}
			WriteJSON(w, http.StatusOK, resp)

		case "DeleteItem":
			var body keyRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.Delete(body.TableName, body.Key); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{})

		case "UpdateItem":
			var body updateItemRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			item, err := engine.Update(body.TableName, body.Key, body.UpdateExpression, body.ConditionExpression, body.ExpressionAttributeNames, body.ExpressionAttributeValues)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Attributes": item})

		case "Query":
			var body queryRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			items, err := engine.Query(body.TableName, body.KeyConditionExpression, body.ExpressionAttributeNames, body.ExpressionAttributeValues, body.FilterExpression, body.Limit)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Items": items, "Count": len(items)})

		case "Scan":
			var body scanRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			items, err := engine.Scan(body.TableName, body.FilterExpression, body.ExpressionAttributeNames, body.ExpressionAttributeValues, body.Limit)
			if err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Items": items, "Count": len(items)})

		case "BatchGetItem":
			var body batchGetRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			responses := make(map[string][]table.Item, len(body.RequestItems))
			for tableName, keys := range body.RequestItems {
				items, err := engine.BatchGet(tableName, keys.Keys)
				if err != nil {
					WriteError(w, err)
					return
				}
				responses[tableName] = items
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Responses": responses})

		case "BatchWriteItem":
			var body batchWriteRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			for tableName, writes := range body.RequestItems {
				var puts, deletes []table.Item
				for _, wr := range writes {
					if wr.PutRequest != nil {
						puts = append(puts, wr.PutRequest.Item)
					}
					if wr.DeleteRequest != nil {
						deletes = append(deletes, wr.DeleteRequest.Key)
					}
				}
				if err := engine.BatchWrite(tableName, puts, deletes); err != nil {
					WriteError(w, err)
					return
				}
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"UnprocessedItems": map[string]interface{}{}})

		case "TransactWriteItems":
			var body transactWriteRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			if err := engine.TransactWrite(transactOpsFrom(body.TransactItems)); err != nil {
				writeTransactCancelled(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{})

		case "TransactGetItems":
			var body transactGetRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			ops := make([]table.TransactGetOp, len(body.TransactItems))
			for i, it := range body.TransactItems {
				ops[i] = table.TransactGetOp{Table: it.Get.TableName, Key: it.Get.Key}
			}
			items, err := engine.TransactGet(ops)
			if err != nil {
				WriteError(w, err)
				return
			}
			responses := make([]map[string]table.Item, len(items))
			for i, item := range items {
				if item != nil {
					responses[i] = map[string]table.Item{"Item": item}
				} else {
					responses[i] = map[string]table.Item{}
				}
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"Responses": responses})

		default:
			WriteError(w, UnknownOperation(TargetOperation(req)))
		}
	})
	return r
}

// writeTransactCancelled renders a *table.TransactionCanceledError in the
// wire shape spec.md 8's "Transaction atomicity" property expects: a
// cancellation error with a CancellationReasons list.
func writeTransactCancelled(w http.ResponseWriter, err error) {
	if tce, ok := err.(*table.TransactionCanceledError); ok {
		reasons := make([]map[string]string, len(tce.Reasons))
		for i, code := range tce.Reasons {
			reasons[i] = map[string]string{"Code": code}
		}
		body := map[string]interface{}{
			"__type":              "TransactionCanceledException",
			"message":             "Transaction cancelled",
			"CancellationReasons": reasons,
		}
		WriteJSON(w, apperrors.StatusFor(apperrors.ConditionFailed("TransactionCanceledException", "")), body)
		return
	}
	WriteError(w, err)
}
